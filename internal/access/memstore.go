package access

import (
	"context"
	"sort"
	"sync"
	"time"

	"aidgate.org/internal/auth"
	"aidgate.org/internal/ids"
)

// MemStore is the in-process record store used for development and
// tests. Reads return clones so callers never share map state.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]*Record)}
}

// Create inserts a record, assigning an id and timestamps when unset.
// It is not part of the Store interface; the gate only reads records,
// seeding and tests write them.
func (s *MemStore) Create(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = ids.New()
	}
	if _, ok := s.records[rec.ID]; ok {
		return auth.ErrAlreadyExists
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	clone := *rec
	s.records[rec.ID] = &clone
	return nil
}

func (s *MemStore) Find(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (s *MemStore) List(_ context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		clone := *rec
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
