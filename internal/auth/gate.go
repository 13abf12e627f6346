package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"aidgate.org/internal/audit"
	"aidgate.org/internal/guard"
	"aidgate.org/internal/obs"
)

const (
	defaultMaxFailures     = 5
	defaultLockoutDuration = 30 * time.Minute
	defaultMFAIssuer       = "aidgate"
	enrollmentTTL          = 10 * time.Minute

	// below this many remaining attempts the response carries a hint;
	// a larger number would make enumeration probing cheaper
	attemptsHintThreshold = 3
)

// LoginStatus is the terminal state of one login attempt.
type LoginStatus int

const (
	// StatusRejected is the terminal failure state.
	StatusRejected LoginStatus = iota
	// StatusMFARequired means the password verified and a second factor
	// must follow. A recognized intermediate outcome, not a failure.
	StatusMFARequired
	// StatusAuthenticated is the terminal success state.
	StatusAuthenticated
)

// Rejection reasons surfaced to the caller. Deliberately coarse: the
// response never distinguishes unknown email from wrong password.
const (
	ReasonInvalidCredentials = "invalid_credentials"
	ReasonLocked             = "locked"
	ReasonPasswordExpired    = "password_expired"
	ReasonInactive           = "inactive"
	ReasonMFAInvalid         = "mfa_invalid"
)

// LoginRequest carries one attempt through the gate.
type LoginRequest struct {
	Email    string
	Password string
	MFACode  string
	Origin   Origin
}

// LoginResult is the tagged outcome of an attempt. Every call site
// must handle all three statuses.
type LoginResult struct {
	Status LoginStatus
	// Reason is set when Status is StatusRejected.
	Reason string
	// RetryAfter is set for lockout rejections.
	RetryAfter time.Duration
	// AttemptsLeft is a remaining-attempts hint, -1 when not disclosed.
	AttemptsLeft int
	// Token and Session are set when Status is StatusAuthenticated.
	Token   string
	Session *Session
}

// Gate is the login state machine. It owns failed-attempt accounting
// and is the only component that sets identity lockout.
type Gate struct {
	store     Store
	guard     *guard.Guard
	recorder  *audit.Recorder
	authority *SessionAuthority

	maxFailures     int
	lockoutDuration time.Duration
	mfaIssuer       string
	now             func() time.Time

	enrollMu sync.Mutex
	pending  map[string]pendingEnrollment
}

type pendingEnrollment struct {
	secret    string
	expiresAt time.Time
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithMaxFailures overrides the lockout threshold.
func WithMaxFailures(n int) GateOption {
	return func(g *Gate) {
		if n > 0 {
			g.maxFailures = n
		}
	}
}

// WithLockoutDuration overrides how long a lockout lasts.
func WithLockoutDuration(d time.Duration) GateOption {
	return func(g *Gate) {
		if d > 0 {
			g.lockoutDuration = d
		}
	}
}

// WithMFAIssuer overrides the issuer shown in authenticator apps.
func WithMFAIssuer(issuer string) GateOption {
	return func(g *Gate) {
		if issuer != "" {
			g.mfaIssuer = issuer
		}
	}
}

// WithGateClock overrides the time source (useful for tests).
func WithGateClock(fn func() time.Time) GateOption {
	return func(g *Gate) {
		if fn != nil {
			g.now = fn
		}
	}
}

// NewGate constructs the credential gate.
func NewGate(store Store, abuse *guard.Guard, recorder *audit.Recorder, authority *SessionAuthority, opts ...GateOption) *Gate {
	g := &Gate{
		store:           store,
		guard:           abuse,
		recorder:        recorder,
		authority:       authority,
		maxFailures:     defaultMaxFailures,
		lockoutDuration: defaultLockoutDuration,
		mfaIssuer:       defaultMFAIssuer,
		now:             time.Now,
		pending:         make(map[string]pendingEnrollment),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// failureKey normalizes the email for abuse accounting. Lookup itself
// stays case-sensitive; the counter must not be dodged by case games.
func failureKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Login runs one attempt through the state machine. An error return
// means storage failed; every policy outcome is in the LoginResult.
// Each terminal rejection or success emits exactly one audit entry.
func (g *Gate) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	now := g.now().UTC()
	key := failureKey(req.Email)

	identity, err := g.store.Identities(ctx).FindByEmail(ctx, req.Email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return LoginResult{}, err
		}
		// Unknown email: same accounting and same response shape as a
		// wrong password, so the caller cannot probe for registrations.
		res := g.guard.LoginFailures.Hit(key)
		return g.reject(ctx, "", req.Origin, ReasonInvalidCredentials, LoginResult{
			Status:       StatusRejected,
			Reason:       ReasonInvalidCredentials,
			AttemptsLeft: g.attemptsHint(res.Count),
		}), nil
	}

	if identity.LockedAt(now) {
		g.guard.LoginFailures.Hit(key)
		return g.reject(ctx, identity.ID, req.Origin, ReasonLocked, LoginResult{
			Status:       StatusRejected,
			Reason:       ReasonLocked,
			RetryAfter:   identity.LockedUntil.Sub(now),
			AttemptsLeft: -1,
		}), nil
	}

	// Expiry is checked before the password so rotation cannot be
	// probed around, and independent of credential correctness.
	if identity.PasswordExpiredAt(now) {
		return g.reject(ctx, identity.ID, req.Origin, ReasonPasswordExpired, LoginResult{
			Status:       StatusRejected,
			Reason:       ReasonPasswordExpired,
			AttemptsLeft: -1,
		}), nil
	}

	if !identity.Active {
		return g.reject(ctx, identity.ID, req.Origin, ReasonInactive, LoginResult{
			Status:       StatusRejected,
			Reason:       ReasonInactive,
			AttemptsLeft: -1,
		}), nil
	}

	if err := VerifyPassword(identity.PasswordHash, req.Password); err != nil {
		return g.failAttempt(ctx, identity, key, req.Origin, now, ReasonInvalidCredentials)
	}

	if identity.MFAEnabled() {
		if req.MFACode == "" {
			// Intermediate state: password verified, second factor
			// outstanding. No session, no audit entry yet.
			obs.ObserveLogin("mfa_required")
			return LoginResult{Status: StatusMFARequired, AttemptsLeft: -1}, nil
		}
		if !ValidateTOTP(req.MFACode, identity.MFASecret, now) {
			return g.failAttempt(ctx, identity, key, req.Origin, now, ReasonMFAInvalid)
		}
	}

	// Fully verified: the only path that resets the failure counter.
	if err := g.store.Identities(ctx).RecordLogin(ctx, identity.ID, now); err != nil {
		return LoginResult{}, err
	}
	g.guard.LoginFailures.Reset(key)

	token, session, err := g.authority.Create(ctx, identity, req.Origin)
	if err != nil {
		return LoginResult{}, err
	}

	g.recorder.Record(ctx, audit.Entry{
		ActorID:    identity.ID,
		Action:     audit.ActionLoginSuccess,
		TargetType: "session",
		TargetID:   session.ID,
		Outcome:    "authenticated",
		Origin:     req.Origin.String(),
	})
	obs.ObserveLogin("authenticated")

	return LoginResult{
		Status:       StatusAuthenticated,
		AttemptsLeft: -1,
		Token:        token,
		Session:      session,
	}, nil
}

// failAttempt records a failed credential or MFA check: the windowed
// counter and the identity's counter both advance, and reaching the
// threshold sets the lockout. This is the only path that locks.
func (g *Gate) failAttempt(ctx context.Context, identity *Identity, key string, origin Origin, now time.Time, reason string) (LoginResult, error) {
	res := g.guard.LoginFailures.Hit(key)
	if _, err := g.store.Identities(ctx).AddFailedAttempt(ctx, identity.ID); err != nil {
		return LoginResult{}, err
	}
	if res.Count >= g.maxFailures {
		if err := g.store.Identities(ctx).SetLockout(ctx, identity.ID, now.Add(g.lockoutDuration)); err != nil {
			return LoginResult{}, err
		}
	}
	return g.reject(ctx, identity.ID, origin, reason, LoginResult{
		Status:       StatusRejected,
		Reason:       reason,
		AttemptsLeft: g.attemptsHint(res.Count),
	}), nil
}

// attemptsHint discloses remaining attempts only near the threshold.
func (g *Gate) attemptsHint(count int) int {
	remaining := g.maxFailures - count
	if remaining < 0 {
		remaining = 0
	}
	if remaining > attemptsHintThreshold {
		return -1
	}
	return remaining
}

func (g *Gate) reject(ctx context.Context, actorID string, origin Origin, reason string, result LoginResult) LoginResult {
	g.recorder.Record(ctx, audit.Entry{
		ActorID: actorID,
		Action:  audit.ActionLoginRejected,
		Outcome: reason,
		Origin:  origin.String(),
	})
	obs.ObserveLogin(reason)
	return result
}

// MFA enrollment -----------------------------------------------------------

// BeginMFAEnrollment issues a pending secret and provisioning URL. The
// secret only becomes active once EnableMFA confirms a valid code.
func (g *Gate) BeginMFAEnrollment(ctx context.Context, identity *Identity) (secret, url string, err error) {
	secret, url, err = GenerateMFASecret(g.mfaIssuer, identity.Email)
	if err != nil {
		return "", "", fmt.Errorf("generate mfa secret: %w", err)
	}
	g.enrollMu.Lock()
	g.pending[identity.ID] = pendingEnrollment{
		secret:    secret,
		expiresAt: g.now().Add(enrollmentTTL),
	}
	g.enrollMu.Unlock()
	return secret, url, nil
}

// EnableMFA activates the pending secret after one valid code.
func (g *Gate) EnableMFA(ctx context.Context, identity *Identity, code string) error {
	g.enrollMu.Lock()
	pending, ok := g.pending[identity.ID]
	g.enrollMu.Unlock()
	if !ok || g.now().After(pending.expiresAt) {
		return ErrEnrollmentState
	}
	if !ValidateTOTP(code, pending.secret, g.now()) {
		return ErrMFACodeInvalid
	}
	if err := g.store.Identities(ctx).SetMFASecret(ctx, identity.ID, pending.secret); err != nil {
		return err
	}
	g.enrollMu.Lock()
	delete(g.pending, identity.ID)
	g.enrollMu.Unlock()

	g.recorder.Record(ctx, audit.Entry{
		ActorID: identity.ID,
		Action:  audit.ActionMFAEnabled,
		Outcome: "enabled",
	})
	return nil
}

// DisableMFA turns step-up off after one valid current code.
func (g *Gate) DisableMFA(ctx context.Context, identity *Identity, code string) error {
	if !identity.MFAEnabled() {
		return ErrMFANotEnabled
	}
	if !ValidateTOTP(code, identity.MFASecret, g.now()) {
		return ErrMFACodeInvalid
	}
	if err := g.store.Identities(ctx).SetMFASecret(ctx, identity.ID, ""); err != nil {
		return err
	}
	g.recorder.Record(ctx, audit.Entry{
		ActorID: identity.ID,
		Action:  audit.ActionMFADisabled,
		Outcome: "disabled",
	})
	return nil
}

// SweepEnrollments drops expired pending enrollments.
func (g *Gate) SweepEnrollments() {
	now := g.now()
	g.enrollMu.Lock()
	defer g.enrollMu.Unlock()
	for id, pending := range g.pending {
		if now.After(pending.expiresAt) {
			delete(g.pending, id)
		}
	}
}
