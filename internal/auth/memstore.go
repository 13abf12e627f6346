package auth

import (
	"context"
	"sort"
	"sync"
	"time"

	"aidgate.org/internal/ids"
)

// MemStore implements Store in process memory with in-process
// concurrency safety. The single-instance default; deployments that
// need shared state swap in the Postgres store.
type MemStore struct {
	mu              sync.RWMutex
	identities      map[string]*Identity
	identityByEmail map[string]string
	organizations   map[string]*Organization
	sessions        map[string]*Session
	sessionByFP     map[string]string
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		identities:      make(map[string]*Identity),
		identityByEmail: make(map[string]string),
		organizations:   make(map[string]*Organization),
		sessions:        make(map[string]*Session),
		sessionByFP:     make(map[string]string),
	}
}

func (s *MemStore) Identities(context.Context) IdentityStore     { return (*memIdentities)(s) }
func (s *MemStore) Organizations(context.Context) OrganizationStore { return (*memOrgs)(s) }
func (s *MemStore) Sessions(context.Context) SessionStore        { return (*memSessions)(s) }

// Identity store -----------------------------------------------------------

type memIdentities MemStore

func (s *memIdentities) Create(_ context.Context, identity *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if identity.ID == "" {
		identity.ID = ids.New()
	}
	if _, exists := s.identityByEmail[identity.Email]; exists {
		return ErrAlreadyExists
	}
	now := time.Now().UTC()
	identity.CreatedAt = now
	identity.UpdatedAt = now
	clone := *identity
	s.identities[identity.ID] = &clone
	s.identityByEmail[identity.Email] = identity.ID
	return nil
}

func (s *memIdentities) Find(_ context.Context, id string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.identities[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *identity
	return &clone, nil
}

func (s *memIdentities) FindByEmail(_ context.Context, email string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.identityByEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *s.identities[id]
	return &clone, nil
}

func (s *memIdentities) UpdatePassword(_ context.Context, id, passwordHash string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[id]
	if !ok {
		return ErrNotFound
	}
	identity.PasswordHash = passwordHash
	identity.PasswordExpiry = expiry
	identity.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memIdentities) AddFailedAttempt(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[id]
	if !ok {
		return 0, ErrNotFound
	}
	identity.FailedAttempts++
	identity.UpdatedAt = time.Now().UTC()
	return identity.FailedAttempts, nil
}

func (s *memIdentities) SetLockout(_ context.Context, id string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[id]
	if !ok {
		return ErrNotFound
	}
	identity.LockedUntil = until
	identity.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memIdentities) RecordLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[id]
	if !ok {
		return ErrNotFound
	}
	identity.FailedAttempts = 0
	identity.LockedUntil = time.Time{}
	identity.LastLoginAt = at
	identity.UpdatedAt = at
	return nil
}

func (s *memIdentities) SetMFASecret(_ context.Context, id, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[id]
	if !ok {
		return ErrNotFound
	}
	identity.MFASecret = secret
	identity.UpdatedAt = time.Now().UTC()
	return nil
}

// Organization store -------------------------------------------------------

type memOrgs MemStore

func (s *memOrgs) Create(_ context.Context, org *Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if org.ID == "" {
		org.ID = ids.New()
	}
	now := time.Now().UTC()
	org.CreatedAt = now
	org.UpdatedAt = now
	clone := *org
	s.organizations[org.ID] = &clone
	return nil
}

func (s *memOrgs) Find(_ context.Context, id string) (*Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.organizations[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *org
	return &clone, nil
}

func (s *memOrgs) SetStatus(_ context.Context, id string, status OrgStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.organizations[id]
	if !ok {
		return ErrNotFound
	}
	org.Status = status
	org.UpdatedAt = time.Now().UTC()
	return nil
}

// Session store ------------------------------------------------------------

type memSessions MemStore

func (s *memSessions) Create(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session.ID == "" {
		session.ID = ids.New()
	}
	clone := *session
	s.sessions[session.ID] = &clone
	s.sessionByFP[session.Fingerprint] = session.ID
	return nil
}

func (s *memSessions) Find(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *session
	return &clone, nil
}

func (s *memSessions) FindByFingerprint(_ context.Context, fingerprint string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.sessionByFP[fingerprint]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *s.sessions[id]
	return &clone, nil
}

func (s *memSessions) ActiveByIdentity(_ context.Context, identityID string, now time.Time) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Session
	for _, session := range s.sessions {
		if session.IdentityID != identityID || !session.Live(now) {
			continue
		}
		clone := *session
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *memSessions) Touch(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	session.LastActivity = at
	return nil
}

func (s *memSessions) Revoke(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	session.Revoked = true
	return nil
}

func (s *memSessions) RevokeAllExcept(_ context.Context, identityID, keepID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	revoked := 0
	for _, session := range s.sessions {
		if session.IdentityID != identityID || session.Revoked || session.ID == keepID {
			continue
		}
		session.Revoked = true
		revoked++
	}
	return revoked, nil
}

func (s *memSessions) PurgeExpired(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for id, session := range s.sessions {
		if session.ExpiresAt.After(cutoff) {
			continue
		}
		delete(s.sessions, id)
		delete(s.sessionByFP, session.Fingerprint)
		purged++
	}
	return purged, nil
}
