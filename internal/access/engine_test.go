package access

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"aidgate.org/internal/audit"
	"aidgate.org/internal/auth"
	"aidgate.org/internal/guard"
	"aidgate.org/internal/vault"
)

type sinkCapture struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *sinkCapture) Append(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *sinkCapture) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Action
	}
	return out
}

type fixture struct {
	engine  *Engine
	store   *MemStore
	idents  *auth.MemStore
	vault   vault.Vault
	sink    *sinkCapture
	cancel  context.CancelFunc
	viewMax int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	v, err := vault.New("engine-test-secret")
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}
	sink := &sinkCapture{}
	recorder := audit.NewRecorder(sink, 64)
	ctx, cancel := context.WithCancel(context.Background())
	go recorder.Run(ctx)
	t.Cleanup(cancel)

	f := &fixture{
		store:   NewMemStore(),
		idents:  auth.NewMemStore(),
		vault:   v,
		sink:    sink,
		cancel:  cancel,
		viewMax: 3,
	}
	abuse := guard.New(guard.Config{
		LoginMaxFailures:   5,
		LoginFailureWindow: 15 * time.Minute,
		ResourceViewMax:    f.viewMax,
		ResourceViewWindow: time.Hour,
		APICallMax:         100,
		APICallWindow:      time.Minute,
	})
	f.engine = NewEngine(f.store, f.idents.Organizations(context.Background()), v, abuse, recorder)
	return f
}

func (f *fixture) identity(t *testing.T, role auth.Role, orgID string) *auth.Identity {
	t.Helper()
	id := &auth.Identity{
		Email:          string(role) + "-" + orgID + "@example.org",
		PasswordHash:   "x",
		Role:           role,
		OrganizationID: orgID,
		Active:         true,
	}
	if err := f.idents.Identities(context.Background()).Create(context.Background(), id); err != nil {
		t.Fatalf("create identity: %v", err)
	}
	return id
}

func (f *fixture) record(t *testing.T, owner *auth.Identity, orgID string, conf *Confidential) *Record {
	t.Helper()
	rec := &Record{
		OwnerID:       owner.ID,
		AssignedOrgID: orgID,
		Category:      "MEDICAL",
		Region:        "Al-Hamra, Aleppo District, Aleppo Governorate",
		Country:       "SY",
		Urgency:       "HIGH",
		Status:        "OPEN",
		CreatedAt:     time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC),
	}
	if conf != nil {
		raw, err := json.Marshal(conf)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		blob, err := f.vault.Encrypt(string(raw))
		if err != nil {
			t.Fatalf("encrypt payload: %v", err)
		}
		rec.Payload = blob
	}
	if err := f.store.Create(context.Background(), rec); err != nil {
		t.Fatalf("create record: %v", err)
	}
	return rec
}

func waitForActions(t *testing.T, sink *sinkCapture, want int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := sink.actions(); len(got) >= want {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("audit sink received %d entries, want %d", len(sink.actions()), want)
	return nil
}

func TestOwnerGetsFullView(t *testing.T) {
	f := newFixture(t)
	owner := f.identity(t, auth.RoleBeneficiary, "")
	conf := &Confidential{Name: "Amal H.", Phone: "+963-900-0000", Location: "Block 4, Shelter 12"}
	rec := f.record(t, owner, "", conf)

	view, err := f.engine.Get(context.Background(), owner, rec.ID, auth.Origin{IP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if view.Level != LevelFull {
		t.Fatalf("level = %s, want full", view.Level)
	}
	if view.Confidential == nil || view.Confidential.Name != conf.Name {
		t.Fatalf("confidential = %+v, want decrypted payload", view.Confidential)
	}
	if view.Region != rec.Region {
		t.Fatalf("region = %q, want exact %q", view.Region, rec.Region)
	}

	actions := waitForActions(t, f.sink, 1)
	if actions[0] != audit.ActionReadFull {
		t.Fatalf("audit action = %q, want %q", actions[0], audit.ActionReadFull)
	}
}

func TestStrangerGetsRedactedView(t *testing.T) {
	f := newFixture(t)
	owner := f.identity(t, auth.RoleBeneficiary, "")
	rec := f.record(t, owner, "", &Confidential{Name: "Amal H."})
	stranger := f.identity(t, auth.RoleFieldWorker, "")

	view, err := f.engine.Get(context.Background(), stranger, rec.ID, auth.Origin{IP: "10.0.0.2"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if view.Level != LevelRedacted {
		t.Fatalf("level = %s, want redacted", view.Level)
	}
	if view.Confidential != nil {
		t.Fatalf("confidential leaked into redacted view: %+v", view.Confidential)
	}
	if view.Region != "Al-Hamra" {
		t.Fatalf("region = %q, want generalized first segment", view.Region)
	}
	if !view.CreatedAt.Equal(time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("created_at = %v, want day precision", view.CreatedAt)
	}

	actions := waitForActions(t, f.sink, 1)
	if actions[0] != audit.ActionReadRedacted {
		t.Fatalf("audit action = %q, want %q", actions[0], audit.ActionReadRedacted)
	}
}

func TestOrgStaffAccessHingesOnVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orgs := f.idents.Organizations(ctx)

	org := &auth.Organization{Name: "Relief Works", Status: auth.OrgPending}
	if err := orgs.Create(ctx, org); err != nil {
		t.Fatalf("create org: %v", err)
	}
	owner := f.identity(t, auth.RoleBeneficiary, "")
	rec := f.record(t, owner, org.ID, &Confidential{Name: "Amal H."})
	staff := f.identity(t, auth.RoleOrgStaff, org.ID)

	view, err := f.engine.Get(ctx, staff, rec.ID, auth.Origin{})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if view.Level != LevelRedacted {
		t.Fatalf("pending org staff level = %s, want redacted", view.Level)
	}

	if err := orgs.SetStatus(ctx, org.ID, auth.OrgVerified); err != nil {
		t.Fatalf("verify org: %v", err)
	}
	view, err = f.engine.Get(ctx, staff, rec.ID, auth.Origin{})
	if err != nil {
		t.Fatalf("Get after verification: %v", err)
	}
	if view.Level != LevelFull {
		t.Fatalf("verified org staff level = %s, want full", view.Level)
	}
}

func TestStaffOfOtherOrgStaysRedacted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orgs := f.idents.Organizations(ctx)

	assigned := &auth.Organization{Name: "Assigned Org", Status: auth.OrgVerified}
	other := &auth.Organization{Name: "Other Org", Status: auth.OrgVerified}
	for _, org := range []*auth.Organization{assigned, other} {
		if err := orgs.Create(ctx, org); err != nil {
			t.Fatalf("create org: %v", err)
		}
	}
	owner := f.identity(t, auth.RoleBeneficiary, "")
	rec := f.record(t, owner, assigned.ID, nil)
	staff := f.identity(t, auth.RoleOrgStaff, other.ID)

	view, err := f.engine.Get(ctx, staff, rec.ID, auth.Origin{})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if view.Level != LevelRedacted {
		t.Fatalf("level = %s, want redacted for unassigned org", view.Level)
	}
}

func TestMissingRecordAndRateLimitLookAlike(t *testing.T) {
	f := newFixture(t)
	owner := f.identity(t, auth.RoleBeneficiary, "")
	rec := f.record(t, owner, "", nil)
	caller := f.identity(t, auth.RoleFieldWorker, "")

	if _, err := f.engine.Get(context.Background(), caller, "no-such-record", auth.Origin{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing record err = %v, want ErrNotFound", err)
	}

	// Burn the remaining view allowance, then confirm an existing record
	// returns the same error as a missing one.
	for i := 0; i < f.viewMax; i++ {
		f.engine.Get(context.Background(), caller, rec.ID, auth.Origin{})
	}
	if _, err := f.engine.Get(context.Background(), caller, rec.ID, auth.Origin{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rate-limited err = %v, want ErrNotFound", err)
	}
}

func TestAdminExemptFromViewLimit(t *testing.T) {
	f := newFixture(t)
	owner := f.identity(t, auth.RoleBeneficiary, "")
	rec := f.record(t, owner, "", nil)
	admin := f.identity(t, auth.RoleAdmin, "")

	for i := 0; i < f.viewMax*3; i++ {
		view, err := f.engine.Get(context.Background(), admin, rec.ID, auth.Origin{})
		if err != nil {
			t.Fatalf("Get %d: %v", i, err)
		}
		if view.Level != LevelFull {
			t.Fatalf("admin level = %s, want full", view.Level)
		}
	}
}

func TestDecryptFailureDegradesFullView(t *testing.T) {
	f := newFixture(t)
	owner := f.identity(t, auth.RoleBeneficiary, "")
	rec := f.record(t, owner, "", nil)
	rec.Payload = "bm90LXJlYWwtY2lwaGVydGV4dA==" // valid base64, garbage ciphertext
	f.store.records[rec.ID].Payload = rec.Payload

	view, err := f.engine.Get(context.Background(), owner, rec.ID, auth.Origin{})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if view.Level != LevelFull {
		t.Fatalf("level = %s, want full even when payload is unreadable", view.Level)
	}
	if view.Confidential != nil {
		t.Fatalf("confidential = %+v, want omitted", view.Confidential)
	}

	actions := waitForActions(t, f.sink, 2)
	seen := map[string]bool{}
	for _, a := range actions {
		seen[a] = true
	}
	if !seen[audit.ActionDecryptFailed] || !seen[audit.ActionReadFull] {
		t.Fatalf("audit actions = %v, want decrypt failure alongside the read", actions)
	}
}

func TestListIsAlwaysRedacted(t *testing.T) {
	f := newFixture(t)
	owner := f.identity(t, auth.RoleBeneficiary, "")
	f.record(t, owner, "", &Confidential{Name: "Amal H."})
	f.record(t, owner, "", &Confidential{Name: "Basim K."})
	admin := f.identity(t, auth.RoleAdmin, "")

	views, err := f.engine.List(context.Background(), admin, auth.Origin{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("len(views) = %d, want 2", len(views))
	}
	for _, view := range views {
		if view.Level != LevelRedacted {
			t.Fatalf("list level = %s, want redacted even for admins", view.Level)
		}
		if view.Confidential != nil {
			t.Fatalf("confidential leaked into list: %+v", view.Confidential)
		}
	}

	actions := waitForActions(t, f.sink, 1)
	if actions[0] != audit.ActionListRedacted {
		t.Fatalf("audit action = %q, want %q", actions[0], audit.ActionListRedacted)
	}
}

func TestGeneralizeRegion(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Al-Hamra, Aleppo District, Aleppo Governorate", "Al-Hamra"},
		{"Nairobi", "Nairobi"},
		{"  Goma , Nord-Kivu", "Goma"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := generalizeRegion(tc.in); got != tc.want {
			t.Fatalf("generalizeRegion(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
