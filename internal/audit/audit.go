// Package audit records every security-relevant decision the gate makes.
// Entries are append-only; nothing in this package mutates or deletes
// what was written.
package audit

import (
	"context"
	"strings"
	"time"
)

// Actions recorded by the gate. Compliance dashboards key on these.
const (
	ActionLoginSuccess    = "auth.login.success"
	ActionLoginRejected   = "auth.login.rejected"
	ActionMFAEnabled      = "auth.mfa.enabled"
	ActionMFADisabled     = "auth.mfa.disabled"
	ActionSessionRevoked  = "session.revoked"
	ActionSessionEvicted  = "session.evicted"
	ActionReadFull        = "record.read.full"
	ActionReadRedacted    = "record.read.redacted"
	ActionListRedacted    = "record.list.redacted"
	ActionDecryptFailed   = "vault.decrypt.failed"
)

// Entry is one immutable decision record.
type Entry struct {
	ID         string            `json:"id"`
	OccurredAt time.Time         `json:"occurred_at"`
	ActorID    string            `json:"actor_id,omitempty"` // empty for unauthenticated attempts
	Action     string            `json:"action"`
	TargetType string            `json:"target_type,omitempty"`
	TargetID   string            `json:"target_id,omitempty"`
	Outcome    string            `json:"outcome"`
	Origin     string            `json:"origin,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Sink is the durable destination for entries.
type Sink interface {
	Append(ctx context.Context, entry Entry) error
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context so
// entries recorded downstream can be correlated with the HTTP request.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id if one was attached.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
