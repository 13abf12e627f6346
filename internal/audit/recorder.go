package audit

import (
	"context"
	"time"

	"aidgate.org/internal/ids"
	"aidgate.org/internal/obs"
)

const (
	defaultAppendTimeout = 2 * time.Second
	appendAttempts       = 3
	retryBackoff         = 200 * time.Millisecond
)

// Recorder queues entries and writes them to a Sink from a background
// goroutine, so the decision path never waits on durable storage.
//
// Policy, deliberately operator-visible: when the sink is unavailable
// writes are retried with backoff; when the queue itself overflows the
// entry is dropped and aidgate_audit_dropped_total is incremented.
// Decisions always complete regardless (fail-open for availability).
type Recorder struct {
	sink  Sink
	queue chan Entry
	now   func() time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder builds a recorder with a bounded queue.
func NewRecorder(sink Sink, queueSize int, opts ...RecorderOption) *Recorder {
	if queueSize <= 0 {
		queueSize = 1024
	}
	r := &Recorder{
		sink:  sink,
		queue: make(chan Entry, queueSize),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record stamps and enqueues an entry. It never blocks: a full queue
// drops the entry and surfaces the loss through metrics and the error
// log rather than stalling the decision that produced it.
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = r.now().UTC()
	}
	if entry.RequestID == "" {
		entry.RequestID = RequestIDFromContext(ctx)
	}

	select {
	case r.queue <- entry:
		obs.SetAuditQueueDepth(len(r.queue))
	default:
		obs.ObserveAuditDropped()
		obs.LogError("audit queue full, entry dropped", map[string]any{
			"action":   entry.Action,
			"actor_id": entry.ActorID,
		})
	}
}

// Run consumes the queue until ctx is done, then drains what is left.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case entry := <-r.queue:
			obs.SetAuditQueueDepth(len(r.queue))
			r.write(entry)
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case entry := <-r.queue:
			r.write(entry)
		default:
			return
		}
	}
}

// write appends one entry, retrying transient sink failures. A final
// failure is logged; the entry is lost but never silently.
func (r *Recorder) write(entry Entry) {
	var lastErr error
	for attempt := 0; attempt < appendAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(retryBackoff * time.Duration(attempt))
		}
		ctx, cancel := context.WithTimeout(context.Background(), defaultAppendTimeout)
		lastErr = r.sink.Append(ctx, entry)
		cancel()
		if lastErr == nil {
			return
		}
	}
	obs.LogError("audit append failed after retries", map[string]any{
		"entry_id": entry.ID,
		"action":   entry.Action,
		"error":    lastErr.Error(),
	})
}
