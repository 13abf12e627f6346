package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                         "/",
		"/metrics":                 "/metrics",
		"/records/01ABCDEF":        "/records/:id",
		"/sessions/01ABCDEF":       "/sessions/:id",
		"/records/abc/extra":       "/records/abc/extra",
		"/records":                 "/records",
		"/sessions/revoke-all":     "/sessions/revoke-all",
		"/auth/login":              "/auth/login",
		"/records/01ABC?fields=id": "/records/:id",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
