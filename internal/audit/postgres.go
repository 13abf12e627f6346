package audit

import (
	"context"
	"database/sql"
	"encoding/json"
)

// PGSink appends entries to the audit_entries table. Inserts only;
// the table carries no update or delete path in this subsystem.
type PGSink struct {
	db *sql.DB
}

var _ Sink = (*PGSink)(nil)

// NewPGSink wraps an open database handle.
func NewPGSink(db *sql.DB) *PGSink {
	return &PGSink{db: db}
}

// Append inserts one entry.
func (s *PGSink) Append(ctx context.Context, entry Entry) error {
	meta, _ := json.Marshal(entry.Metadata)
	_, err := s.db.ExecContext(ctx,
		`insert into audit_entries(id, occurred_at, actor_id, action, target_type, target_id, outcome, origin, request_id, metadata)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		entry.ID, entry.OccurredAt, nullable(entry.ActorID), entry.Action,
		nullable(entry.TargetType), nullable(entry.TargetID), entry.Outcome,
		nullable(entry.Origin), nullable(entry.RequestID), meta,
	)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
