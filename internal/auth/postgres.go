package auth

import (
	"context"
	"database/sql"
	"time"

	"aidgate.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Identities(context.Context) IdentityStore       { return &pgIdentities{db: s.db} }
func (s *PGStore) Organizations(context.Context) OrganizationStore { return &pgOrgs{db: s.db} }
func (s *PGStore) Sessions(context.Context) SessionStore          { return &pgSessions{db: s.db} }

// Identity store -----------------------------------------------------------

type pgIdentities struct{ db *sql.DB }

const identityColumns = `id, email, password_hash, role, organization_id, active,
	failed_attempts, locked_until, mfa_secret, password_expiry, last_login_at, created_at, updated_at`

func (s *pgIdentities) Create(ctx context.Context, identity *Identity) error {
	if identity.ID == "" {
		identity.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into identities(id, email, password_hash, role, organization_id, active, mfa_secret, password_expiry)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		identity.ID, identity.Email, identity.PasswordHash, string(identity.Role),
		nullString(identity.OrganizationID), identity.Active,
		nullString(identity.MFASecret), nullTime(identity.PasswordExpiry),
	)
	return err
}

func (s *pgIdentities) Find(ctx context.Context, id string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from identities where id=$1`, id)
	return scanIdentity(row)
}

func (s *pgIdentities) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from identities where email=$1`, email)
	return scanIdentity(row)
}

func scanIdentity(row *sql.Row) (*Identity, error) {
	var (
		identity    Identity
		role        string
		orgID       sql.NullString
		lockedUntil sql.NullTime
		mfaSecret   sql.NullString
		pwExpiry    sql.NullTime
		lastLogin   sql.NullTime
	)
	err := row.Scan(&identity.ID, &identity.Email, &identity.PasswordHash, &role,
		&orgID, &identity.Active, &identity.FailedAttempts, &lockedUntil,
		&mfaSecret, &pwExpiry, &lastLogin, &identity.CreatedAt, &identity.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	identity.Role = Role(role)
	identity.OrganizationID = orgID.String
	identity.LockedUntil = lockedUntil.Time
	identity.MFASecret = mfaSecret.String
	identity.PasswordExpiry = pwExpiry.Time
	identity.LastLoginAt = lastLogin.Time
	return &identity, nil
}

func (s *pgIdentities) UpdatePassword(ctx context.Context, id, passwordHash string, expiry time.Time) error {
	return s.exec(ctx,
		`update identities set password_hash=$2, password_expiry=$3, updated_at=now() where id=$1`,
		id, passwordHash, nullTime(expiry))
}

func (s *pgIdentities) AddFailedAttempt(ctx context.Context, id string) (int, error) {
	// Single-statement increment keeps concurrent attempts consistent.
	row := s.db.QueryRowContext(ctx,
		`update identities set failed_attempts = failed_attempts + 1, updated_at=now()
		 where id=$1 returning failed_attempts`, id)
	var count int
	if err := row.Scan(&count); err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return count, nil
}

func (s *pgIdentities) SetLockout(ctx context.Context, id string, until time.Time) error {
	return s.exec(ctx,
		`update identities set locked_until=$2, updated_at=now() where id=$1`,
		id, nullTime(until))
}

func (s *pgIdentities) RecordLogin(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx,
		`update identities set failed_attempts=0, locked_until=null, last_login_at=$2, updated_at=$2 where id=$1`,
		id, at)
}

func (s *pgIdentities) SetMFASecret(ctx context.Context, id, secret string) error {
	return s.exec(ctx,
		`update identities set mfa_secret=$2, updated_at=now() where id=$1`,
		id, nullString(secret))
}

func (s *pgIdentities) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Organization store -------------------------------------------------------

type pgOrgs struct{ db *sql.DB }

func (s *pgOrgs) Create(ctx context.Context, org *Organization) error {
	if org.ID == "" {
		org.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into organizations(id, name, status) values($1,$2,$3)`,
		org.ID, org.Name, string(org.Status))
	return err
}

func (s *pgOrgs) Find(ctx context.Context, id string) (*Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, status, created_at, updated_at from organizations where id=$1`, id)
	var (
		org    Organization
		status string
	)
	if err := row.Scan(&org.ID, &org.Name, &status, &org.CreatedAt, &org.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	org.Status = OrgStatus(status)
	return &org, nil
}

func (s *pgOrgs) SetStatus(ctx context.Context, id string, status OrgStatus) error {
	res, err := s.db.ExecContext(ctx,
		`update organizations set status=$2, updated_at=now() where id=$1`,
		id, string(status))
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Session store ------------------------------------------------------------

type pgSessions struct{ db *sql.DB }

const sessionColumns = `id, identity_id, fingerprint, created_at, expires_at, last_activity, revoked, origin_ip, origin_user_agent`

func (s *pgSessions) Create(ctx context.Context, session *Session) error {
	if session.ID == "" {
		session.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into sessions(id, identity_id, fingerprint, created_at, expires_at, last_activity, revoked, origin_ip, origin_user_agent)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		session.ID, session.IdentityID, session.Fingerprint,
		session.CreatedAt, session.ExpiresAt, session.LastActivity,
		session.Revoked, session.Origin.IP, session.Origin.UserAgent)
	return err
}

func (s *pgSessions) Find(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions where id=$1`, id)
	return scanSession(row)
}

func (s *pgSessions) FindByFingerprint(ctx context.Context, fingerprint string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions where fingerprint=$1`, fingerprint)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*Session, error) {
	var session Session
	err := row.Scan(&session.ID, &session.IdentityID, &session.Fingerprint,
		&session.CreatedAt, &session.ExpiresAt, &session.LastActivity,
		&session.Revoked, &session.Origin.IP, &session.Origin.UserAgent)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (s *pgSessions) ActiveByIdentity(ctx context.Context, identityID string, now time.Time) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+sessionColumns+` from sessions
		 where identity_id=$1 and not revoked and expires_at > $2
		 order by created_at asc, id asc`, identityID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var session Session
		if err := rows.Scan(&session.ID, &session.IdentityID, &session.Fingerprint,
			&session.CreatedAt, &session.ExpiresAt, &session.LastActivity,
			&session.Revoked, &session.Origin.IP, &session.Origin.UserAgent); err != nil {
			return nil, err
		}
		out = append(out, &session)
	}
	return out, rows.Err()
}

func (s *pgSessions) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update sessions set last_activity=$2 where id=$1`, id, at)
	return err
}

func (s *pgSessions) Revoke(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update sessions set revoked=true where id=$1`, id)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgSessions) RevokeAllExcept(ctx context.Context, identityID, keepID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`update sessions set revoked=true where identity_id=$1 and not revoked and id <> $2`,
		identityID, keepID)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

func (s *pgSessions) PurgeExpired(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from sessions where expires_at <= $1`, cutoff)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
