package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"aidgate.org/internal/access"
	"aidgate.org/internal/audit"
	"aidgate.org/internal/auth"
	"aidgate.org/internal/guard"
	"aidgate.org/internal/vault"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T

	store   *auth.MemStore
	records *access.MemStore
	vault   vault.Vault
}

type nullSink struct{}

func (nullSink) Append(context.Context, audit.Entry) error { return nil }

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	v, err := vault.New("httpapi-test-secret")
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}
	store := auth.NewMemStore()
	records := access.NewMemStore()
	recorder := audit.NewRecorder(nullSink{}, 64)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go recorder.Run(ctx)

	abuse := guard.New(guard.Config{
		LoginMaxFailures:   5,
		LoginFailureWindow: 15 * time.Minute,
		ResourceViewMax:    100,
		ResourceViewWindow: time.Hour,
		APICallMax:         1000,
		APICallWindow:      time.Minute,
	})
	sessions, err := auth.NewSessionAuthority(store, recorder, "test-token-secret")
	if err != nil {
		t.Fatalf("NewSessionAuthority: %v", err)
	}
	gate := auth.NewGate(store, abuse, recorder, sessions)
	engine := access.NewEngine(records, store.Organizations(ctx), v, abuse, recorder)

	api := New(ReadyProbe{}, "test", gate, sessions, engine, abuse)
	api.rateBurst = 1000
	api.ratePerSec = 1000

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		store:   store,
		records: records,
		vault:   v,
	}
}

func (c *apiClient) seedIdentity(email, password string, role auth.Role) *auth.Identity {
	c.t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		c.t.Fatalf("hash password: %v", err)
	}
	identity := &auth.Identity{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
	}
	if err := c.store.Identities(context.Background()).Create(context.Background(), identity); err != nil {
		c.t.Fatalf("seed identity: %v", err)
	}
	return identity
}

func (c *apiClient) seedRecord(owner *auth.Identity, conf *access.Confidential) *access.Record {
	c.t.Helper()
	rec := &access.Record{
		OwnerID:  owner.ID,
		Category: "SHELTER",
		Region:   "Zahle, Bekaa",
		Country:  "LB",
		Urgency:  "MEDIUM",
		Status:   "OPEN",
	}
	if conf != nil {
		raw, err := json.Marshal(conf)
		if err != nil {
			c.t.Fatalf("marshal payload: %v", err)
		}
		rec.Payload, err = c.vault.Encrypt(string(raw))
		if err != nil {
			c.t.Fatalf("encrypt payload: %v", err)
		}
	}
	if err := c.records.Create(context.Background(), rec); err != nil {
		c.t.Fatalf("seed record: %v", err)
	}
	return rec
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, headers map[string]string) *http.Response {
	return c.do(http.MethodGet, path, nil, headers)
}

func (c *apiClient) login(email, password string) string {
	c.t.Helper()
	resp := c.post("/auth/login", map[string]any{
		"email":    email,
		"password": password,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("login status = %d, want 200", resp.StatusCode)
	}
	payload := decode[loginResponse](c.t, resp)
	if payload.Token == "" {
		c.t.Fatal("empty token issued")
	}
	return payload.Token
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestLoginAndRecordAccessLevels(t *testing.T) {
	c := newTestAPI(t)
	owner := c.seedIdentity("amal@example.org", "correct horse battery", auth.RoleBeneficiary)
	c.seedIdentity("worker@example.org", "field worker pass", auth.RoleFieldWorker)
	conf := &access.Confidential{Name: "Amal H.", Phone: "+961-3-000000"}
	rec := c.seedRecord(owner, conf)

	ownerToken := c.login("amal@example.org", "correct horse battery")
	otherToken := c.login("worker@example.org", "field worker pass")

	resp := c.get("/records/"+rec.ID, bearerHeader(ownerToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner get status = %d, want 200", resp.StatusCode)
	}
	full := decode[access.View](t, resp)
	if full.Level != access.LevelFull {
		t.Fatalf("owner level = %s, want full", full.Level)
	}
	if full.Confidential == nil || full.Confidential.Name != conf.Name {
		t.Fatalf("owner confidential = %+v, want decrypted payload", full.Confidential)
	}

	resp = c.get("/records/"+rec.ID, bearerHeader(otherToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stranger get status = %d, want 200", resp.StatusCode)
	}
	redacted := decode[access.View](t, resp)
	if redacted.Level != access.LevelRedacted {
		t.Fatalf("stranger level = %s, want redacted", redacted.Level)
	}
	if redacted.Confidential != nil {
		t.Fatalf("confidential leaked: %+v", redacted.Confidential)
	}
	if redacted.Region != "Zahle" {
		t.Fatalf("region = %q, want generalized", redacted.Region)
	}

	resp = c.get("/records/no-such-id", bearerHeader(otherToken))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing record status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	c := newTestAPI(t)
	c.seedIdentity("locked@example.org", "right password", auth.RoleBeneficiary)

	for i := 0; i < 5; i++ {
		resp := c.post("/auth/login", map[string]any{
			"email":    "locked@example.org",
			"password": "wrong password",
		}, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want 401", i+1, resp.StatusCode)
		}
		resp.Body.Close()
	}

	// Correct credentials no longer matter once the lockout engaged.
	resp := c.post("/auth/login", map[string]any{
		"email":    "locked@example.org",
		"password": "right password",
	}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("locked login status = %d, want 401", resp.StatusCode)
	}
	payload := decode[struct {
		Reason     string `json:"reason"`
		RetryAfter int64  `json:"retry_after"`
	}](t, resp)
	if payload.Reason != auth.ReasonLocked {
		t.Fatalf("reason = %q, want %q", payload.Reason, auth.ReasonLocked)
	}
	if payload.RetryAfter <= 0 {
		t.Fatalf("retry_after = %d, want positive", payload.RetryAfter)
	}
}

func TestLoginStepUpWithTOTP(t *testing.T) {
	c := newTestAPI(t)
	identity := c.seedIdentity("mfa@example.org", "step up pass", auth.RoleOrgStaff)

	secret, _, err := auth.GenerateMFASecret("aidgate", identity.Email)
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	ctx := context.Background()
	if err := c.store.Identities(ctx).SetMFASecret(ctx, identity.ID, secret); err != nil {
		t.Fatalf("set secret: %v", err)
	}

	resp := c.post("/auth/login", map[string]any{
		"email":    "mfa@example.org",
		"password": "step up pass",
	}, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("password-only status = %d, want 202", resp.StatusCode)
	}
	resp.Body.Close()

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	resp = c.post("/auth/login", map[string]any{
		"email":    "mfa@example.org",
		"password": "step up pass",
		"mfa_code": code,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mfa login status = %d, want 200", resp.StatusCode)
	}
	payload := decode[loginResponse](t, resp)
	if payload.Token == "" {
		t.Fatal("empty token after mfa login")
	}
}

func TestSessionListingAndRevocation(t *testing.T) {
	c := newTestAPI(t)
	c.seedIdentity("multi@example.org", "many devices", auth.RoleFieldWorker)

	first := c.login("multi@example.org", "many devices")
	second := c.login("multi@example.org", "many devices")

	resp := c.get("/sessions", bearerHeader(second))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want 200", resp.StatusCode)
	}
	listing := decode[struct {
		Items []sessionView `json:"items"`
	}](t, resp)
	if len(listing.Items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(listing.Items))
	}
	currentCount := 0
	for _, s := range listing.Items {
		if s.Current {
			currentCount++
		}
	}
	if currentCount != 1 {
		t.Fatalf("current markers = %d, want exactly 1", currentCount)
	}

	resp = c.post("/sessions/revoke-others", nil, bearerHeader(second))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke-others status = %d, want 204", resp.StatusCode)
	}
	resp.Body.Close()

	// The first token must be dead, the second still valid.
	resp = c.get("/sessions", bearerHeader(first))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked token status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
	resp = c.get("/sessions", bearerHeader(second))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("surviving token status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAuthRequiredOnProtectedRoutes(t *testing.T) {
	c := newTestAPI(t)

	for _, path := range []string{"/sessions", "/records", "/mfa/setup"} {
		resp := c.get(path, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("GET %s status = %d, want 401", path, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := c.get("/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestMFAEnrollmentLifecycle(t *testing.T) {
	c := newTestAPI(t)
	c.seedIdentity("enroll@example.org", "enroll pass", auth.RoleBeneficiary)
	token := c.login("enroll@example.org", "enroll pass")

	resp := c.get("/mfa/setup", bearerHeader(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("setup status = %d, want 200", resp.StatusCode)
	}
	setup := decode[struct {
		Secret     string `json:"secret"`
		OtpauthURL string `json:"otpauth_url"`
	}](t, resp)
	if setup.Secret == "" || setup.OtpauthURL == "" {
		t.Fatalf("setup payload incomplete: %+v", setup)
	}

	resp = c.post("/mfa/enable", map[string]any{"code": "000000"}, bearerHeader(token))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad code enable status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	code, err := totp.GenerateCode(setup.Secret, time.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	resp = c.post("/mfa/enable", map[string]any{"code": code}, bearerHeader(token))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("enable status = %d, want 204", resp.StatusCode)
	}
	resp.Body.Close()

	// Password alone is no longer enough.
	resp = c.post("/auth/login", map[string]any{
		"email":    "enroll@example.org",
		"password": "enroll pass",
	}, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("post-enroll login status = %d, want 202", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestListRecordsAlwaysRedacted(t *testing.T) {
	c := newTestAPI(t)
	owner := c.seedIdentity("lister@example.org", "list pass", auth.RoleAdmin)
	c.seedRecord(owner, &access.Confidential{Name: "Amal H."})

	token := c.login("lister@example.org", "list pass")
	resp := c.get("/records", bearerHeader(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want 200", resp.StatusCode)
	}
	listing := decode[struct {
		Items []access.View `json:"items"`
	}](t, resp)
	if len(listing.Items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(listing.Items))
	}
	if listing.Items[0].Level != access.LevelRedacted {
		t.Fatalf("list level = %s, want redacted", listing.Items[0].Level)
	}
}
