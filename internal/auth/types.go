package auth

import "time"

// Role classifies an authenticated principal.
type Role string

const (
	RoleBeneficiary Role = "BENEFICIARY"
	RoleFieldWorker Role = "FIELD_WORKER"
	RoleOrgStaff    Role = "ORG_STAFF"
	RoleAdmin       Role = "ADMIN"
)

// OrgStatus is the verification standing of an organization.
// The gate only ever reads it; an admin-facing collaborator mutates it.
type OrgStatus string

const (
	OrgPending   OrgStatus = "PENDING"
	OrgVerified  OrgStatus = "VERIFIED"
	OrgSuspended OrgStatus = "SUSPENDED"
	OrgRejected  OrgStatus = "REJECTED"
)

// Organization is an NGO a staff identity may belong to.
type Organization struct {
	ID        string
	Name      string
	Status    OrgStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity is an authenticated principal. Registration creates it;
// the gate mutates its lockout and login bookkeeping on every attempt.
type Identity struct {
	ID             string
	Email          string
	PasswordHash   string
	Role           Role
	OrganizationID string // empty unless ORG_STAFF
	Active         bool
	FailedAttempts int
	LockedUntil    time.Time // zero means not locked
	MFASecret      string    // empty means MFA disabled
	PasswordExpiry time.Time // zero means no expiry
	LastLoginAt    time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MFAEnabled reports whether step-up verification is required.
func (i *Identity) MFAEnabled() bool {
	return i.MFASecret != ""
}

// LockedAt reports whether the identity is locked out at the given time.
func (i *Identity) LockedAt(now time.Time) bool {
	return !i.LockedUntil.IsZero() && now.Before(i.LockedUntil)
}

// PasswordExpiredAt reports whether the password must be rotated.
func (i *Identity) PasswordExpiredAt(now time.Time) bool {
	return !i.PasswordExpiry.IsZero() && !now.Before(i.PasswordExpiry)
}

// Origin is request metadata attached to sessions and audit entries.
type Origin struct {
	IP        string
	UserAgent string
}

// String renders the origin for audit entries.
func (o Origin) String() string {
	if o.UserAgent == "" {
		return o.IP
	}
	return o.IP + " " + o.UserAgent
}

// Session is one live authenticated context. Only the token
// fingerprint is stored; the raw bearer token never touches storage.
type Session struct {
	ID           string
	IdentityID   string
	Fingerprint  string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastActivity time.Time
	Revoked      bool
	Origin       Origin
}

// Live reports whether the session itself is still usable at the given
// time. The identity's active flag is checked separately on validate.
func (s *Session) Live(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}
