// Package access decides what a caller may see of a case record: the
// full shape with the decrypted confidential payload, or the redacted
// projection. Every privileged read leaves an audit entry.
package access

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound covers both a missing record and an unauthorized or
// rate-limited lookup. The merge is deliberate: a caller must not be
// able to distinguish "exists but hidden" from "does not exist".
var ErrNotFound = errors.New("access: not found")

// Record is a case with a confidential payload. The payload field
// holds vault ciphertext and is only ever decrypted inside the engine.
type Record struct {
	ID            string
	OwnerID       string
	AssignedOrgID string
	Category      string
	Region        string // "locality, district, province" as entered
	Country       string
	Urgency       string
	Status        string
	Payload       string // vault ciphertext, possibly empty
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Confidential is the decrypted payload shape. None of these fields
// may ever appear in a redacted view.
type Confidential struct {
	Name     string `json:"name,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Location string `json:"location,omitempty"`
	Details  string `json:"details,omitempty"`
}

// Level is the granted access level.
type Level string

const (
	LevelFull     Level = "full"
	LevelRedacted Level = "redacted"
)

// View is the projection returned to the caller.
type View struct {
	Level    Level  `json:"level"`
	ID       string `json:"id"`
	Category string `json:"category"`
	Status   string `json:"status"`
	Urgency  string `json:"urgency"`
	Country  string `json:"country"`
	// Region is generalized in redacted views, exact in full views.
	Region    string    `json:"region,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	// Confidential is present only in full views, and omitted there
	// too when its ciphertext cannot be decrypted.
	Confidential *Confidential `json:"confidential,omitempty"`
}

// Store reads case records. Writing them belongs to the case-creation
// collaborator, not the gate.
type Store interface {
	Find(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context) ([]*Record, error)
}

// generalizeRegion keeps only the text before the first comma. A
// heuristic carried over from the system this replaces, not a
// geocoding-aware truncation.
func generalizeRegion(region string) string {
	segment, _, _ := strings.Cut(region, ",")
	return strings.TrimSpace(segment)
}

// coarse truncates a timestamp to day precision for redacted views.
func coarse(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
