package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the gate.
type Store interface {
	Identities(ctx context.Context) IdentityStore
	Organizations(ctx context.Context) OrganizationStore
	Sessions(ctx context.Context) SessionStore
}

// IdentityStore manages identities. The gate never hard-deletes one;
// erasure belongs to an external collaborator.
type IdentityStore interface {
	Create(ctx context.Context, identity *Identity) error
	Find(ctx context.Context, id string) (*Identity, error)
	// FindByEmail matches the email exactly as stored (case-sensitive).
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	UpdatePassword(ctx context.Context, id, passwordHash string, expiry time.Time) error
	// AddFailedAttempt atomically increments the failure counter and
	// returns the new total. Concurrent attempts on the same identity
	// must never lose an update.
	AddFailedAttempt(ctx context.Context, id string) (int, error)
	SetLockout(ctx context.Context, id string, until time.Time) error
	// RecordLogin resets the failure counter to zero, clears lockout,
	// and stamps the last successful login. The only reset path.
	RecordLogin(ctx context.Context, id string, at time.Time) error
	SetMFASecret(ctx context.Context, id, secret string) error
}

// OrganizationStore manages organization standing. Read-only to the
// gate; Create/SetStatus serve the admin-facing collaborator.
type OrganizationStore interface {
	Create(ctx context.Context, org *Organization) error
	Find(ctx context.Context, id string) (*Organization, error)
	SetStatus(ctx context.Context, id string, status OrgStatus) error
}

// SessionStore manages session records. Raw tokens never reach it.
type SessionStore interface {
	Create(ctx context.Context, session *Session) error
	Find(ctx context.Context, id string) (*Session, error)
	FindByFingerprint(ctx context.Context, fingerprint string) (*Session, error)
	// ActiveByIdentity returns unrevoked, unexpired sessions ordered
	// oldest-first by creation time.
	ActiveByIdentity(ctx context.Context, identityID string, now time.Time) ([]*Session, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Revoke(ctx context.Context, id string) error
	// RevokeAllExcept revokes every active session of the identity but
	// the one named; keepID may be empty to revoke all. Returns the
	// number revoked.
	RevokeAllExcept(ctx context.Context, identityID, keepID string) (int, error)
	// PurgeExpired deletes sessions whose expiry predates the cutoff.
	PurgeExpired(ctx context.Context, cutoff time.Time) (int, error)
}
