package audit

import (
	"context"
	"encoding/json"
	"time"

	"aidgate.org/internal/obs"
)

// LogSink appends entries as structured JSON lines through the shared
// logger. The single-process default; compliance tooling tails stdout.
type LogSink struct{}

var _ Sink = LogSink{}

// Append writes one entry as a JSON line.
func (LogSink) Append(_ context.Context, entry Entry) error {
	line := map[string]any{
		"ts":    entry.OccurredAt.Format(time.RFC3339Nano),
		"type":  "audit",
		"id":    entry.ID,
		"event": entry.Action,
	}
	if entry.ActorID != "" {
		line["actor_id"] = entry.ActorID
	}
	if entry.TargetType != "" {
		line["target_type"] = entry.TargetType
		line["target_id"] = entry.TargetID
	}
	if entry.Outcome != "" {
		line["outcome"] = entry.Outcome
	}
	if entry.Origin != "" {
		line["origin"] = entry.Origin
	}
	if entry.RequestID != "" {
		line["request_id"] = entry.RequestID
	}
	if len(entry.Metadata) > 0 {
		line["fields"] = entry.Metadata
	}
	data, err := json.Marshal(line)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
