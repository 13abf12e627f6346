package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"aidgate.org/internal/audit"
	"aidgate.org/internal/ids"
)

const (
	tokenIssuer       = "aidgate"
	defaultSessionTTL = 12 * time.Hour
	defaultSessionCap = 5
	defaultRetention  = 7 * 24 * time.Hour
	identityLockCount = 64
)

// sessionClaims are the JWT claims carried by a bearer token. The
// token is opaque to clients; the server-side source of truth is the
// fingerprint lookup, the signature just rejects garbage early.
type sessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// SessionAuthority issues, validates, and revokes sessions. Only a
// one-way SHA-256 fingerprint of each token is persisted, so a read of
// session storage cannot replay live sessions.
type SessionAuthority struct {
	store     Store
	recorder  *audit.Recorder
	secret    []byte
	ttl       time.Duration
	cap       int
	retention time.Duration
	now       func() time.Time

	// per-identity locks keep create/evict atomic under login bursts
	identityLocks [identityLockCount]sync.Mutex
}

// AuthorityOption configures a SessionAuthority.
type AuthorityOption func(*SessionAuthority)

// WithSessionTTL overrides the session lifetime.
func WithSessionTTL(ttl time.Duration) AuthorityOption {
	return func(a *SessionAuthority) {
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

// WithSessionCap overrides the concurrent-session limit per identity.
func WithSessionCap(limit int) AuthorityOption {
	return func(a *SessionAuthority) {
		if limit > 0 {
			a.cap = limit
		}
	}
}

// WithRetention overrides the forensic grace period kept after expiry.
func WithRetention(d time.Duration) AuthorityOption {
	return func(a *SessionAuthority) {
		if d > 0 {
			a.retention = d
		}
	}
}

// WithAuthorityClock overrides the time source (useful for tests).
func WithAuthorityClock(fn func() time.Time) AuthorityOption {
	return func(a *SessionAuthority) {
		if fn != nil {
			a.now = fn
		}
	}
}

// NewSessionAuthority constructs a SessionAuthority.
func NewSessionAuthority(store Store, recorder *audit.Recorder, tokenSecret string, opts ...AuthorityOption) (*SessionAuthority, error) {
	if tokenSecret == "" {
		return nil, errors.New("auth: token secret is required")
	}
	a := &SessionAuthority{
		store:     store,
		recorder:  recorder,
		secret:    []byte(tokenSecret),
		ttl:       defaultSessionTTL,
		cap:       defaultSessionCap,
		retention: defaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Fingerprint derives the stored stand-in for a raw token.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (a *SessionAuthority) lockFor(identityID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identityID))
	return &a.identityLocks[h.Sum32()%identityLockCount]
}

// Create mints a session for the identity. When the concurrent-session
// cap would be exceeded, the oldest active session by creation time is
// revoked first.
func (a *SessionAuthority) Create(ctx context.Context, identity *Identity, origin Origin) (string, *Session, error) {
	lock := a.lockFor(identity.ID)
	lock.Lock()
	defer lock.Unlock()

	now := a.now().UTC()
	sessionID := ids.New()

	token, err := a.signToken(identity.ID, sessionID, now)
	if err != nil {
		return "", nil, fmt.Errorf("sign session token: %w", err)
	}

	sessions := a.store.Sessions(ctx)
	active, err := sessions.ActiveByIdentity(ctx, identity.ID, now)
	if err != nil {
		return "", nil, err
	}
	for len(active) >= a.cap {
		oldest := active[0]
		if err := sessions.Revoke(ctx, oldest.ID); err != nil {
			return "", nil, err
		}
		a.recorder.Record(ctx, audit.Entry{
			ActorID:    identity.ID,
			Action:     audit.ActionSessionEvicted,
			TargetType: "session",
			TargetID:   oldest.ID,
			Outcome:    "revoked",
			Metadata:   map[string]string{"reason": "session cap"},
		})
		active = active[1:]
	}

	session := &Session{
		ID:           sessionID,
		IdentityID:   identity.ID,
		Fingerprint:  Fingerprint(token),
		CreatedAt:    now,
		ExpiresAt:    now.Add(a.ttl),
		LastActivity: now,
		Origin:       origin,
	}
	if err := sessions.Create(ctx, session); err != nil {
		return "", nil, err
	}
	return token, session, nil
}

func (a *SessionAuthority) signToken(identityID, sessionID string, now time.Time) (string, error) {
	claims := sessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   identityID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Validate checks a bearer token and returns the live session and its
// identity. Refreshing the last-activity timestamp is its only
// permitted side effect.
func (a *SessionAuthority) Validate(ctx context.Context, token string) (*Session, *Identity, error) {
	if token == "" {
		return nil, nil, ErrInvalidToken
	}
	if err := a.verifyToken(token); err != nil {
		return nil, nil, ErrInvalidToken
	}

	session, err := a.store.Sessions(ctx).FindByFingerprint(ctx, Fingerprint(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrInvalidToken
		}
		return nil, nil, err
	}

	now := a.now().UTC()
	if session.Revoked {
		return nil, nil, ErrSessionRevoked
	}
	if !now.Before(session.ExpiresAt) {
		return nil, nil, ErrSessionExpired
	}

	identity, err := a.store.Identities(ctx).Find(ctx, session.IdentityID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrInvalidToken
		}
		return nil, nil, err
	}
	if !identity.Active {
		return nil, nil, ErrSessionRevoked
	}

	if err := a.store.Sessions(ctx).Touch(ctx, session.ID, now); err != nil {
		return nil, nil, err
	}
	session.LastActivity = now
	return session, identity, nil
}

func (a *SessionAuthority) verifyToken(token string) error {
	parsed, err := jwt.ParseWithClaims(token, &sessionClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(a.now))
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}

// List returns the identity's active sessions, oldest first.
func (a *SessionAuthority) List(ctx context.Context, identityID string) ([]*Session, error) {
	return a.store.Sessions(ctx).ActiveByIdentity(ctx, identityID, a.now().UTC())
}

// Revoke terminates one session. The session must belong to the
// identity; anything else reads as not found.
func (a *SessionAuthority) Revoke(ctx context.Context, identityID, sessionID string) error {
	session, err := a.store.Sessions(ctx).Find(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.IdentityID != identityID {
		return ErrNotFound
	}
	if err := a.store.Sessions(ctx).Revoke(ctx, sessionID); err != nil {
		return err
	}
	a.recorder.Record(ctx, audit.Entry{
		ActorID:    identityID,
		Action:     audit.ActionSessionRevoked,
		TargetType: "session",
		TargetID:   sessionID,
		Outcome:    "revoked",
	})
	return nil
}

// RevokeAll terminates every active session of the identity.
func (a *SessionAuthority) RevokeAll(ctx context.Context, identityID string) (int, error) {
	return a.revokeAllExcept(ctx, identityID, "")
}

// RevokeAllExcept terminates every active session except the one the
// given token belongs to.
func (a *SessionAuthority) RevokeAllExcept(ctx context.Context, identityID, currentToken string) (int, error) {
	current, err := a.store.Sessions(ctx).FindByFingerprint(ctx, Fingerprint(currentToken))
	if err != nil {
		return 0, err
	}
	if current.IdentityID != identityID {
		return 0, ErrNotFound
	}
	return a.revokeAllExcept(ctx, identityID, current.ID)
}

func (a *SessionAuthority) revokeAllExcept(ctx context.Context, identityID, keepID string) (int, error) {
	revoked, err := a.store.Sessions(ctx).RevokeAllExcept(ctx, identityID, keepID)
	if err != nil {
		return 0, err
	}
	if revoked > 0 {
		a.recorder.Record(ctx, audit.Entry{
			ActorID:    identityID,
			Action:     audit.ActionSessionRevoked,
			TargetType: "session",
			Outcome:    "revoked",
			Metadata:   map[string]string{"count": fmt.Sprintf("%d", revoked)},
		})
	}
	return revoked, nil
}

// Sweep purges sessions past expiry plus the retention grace period.
// Expired sessions are kept for the grace window as a forensic trail.
func (a *SessionAuthority) Sweep(ctx context.Context) (int, error) {
	cutoff := a.now().UTC().Add(-a.retention)
	return a.store.Sessions(ctx).PurgeExpired(ctx, cutoff)
}

// Run sweeps on the given interval until ctx is done.
func (a *SessionAuthority) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = a.Sweep(ctx)
		}
	}
}
