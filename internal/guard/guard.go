// Package guard implements the shared abuse-prevention counters: one
// sliding-window algorithm parameterized per concern (login failures,
// resource views, generic API calls).
package guard

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"aidgate.org/internal/obs"
)

// ErrRateLimited is the typed outcome surfaced when a window trips.
var ErrRateLimited = errors.New("guard: rate limited")

const shardCount = 32

// Result reports the effect of one counted event.
type Result struct {
	// Allowed is false once the window holds more than max events.
	Allowed bool
	// Count is the number of events in the current window, this one included.
	Count int
	// RetryAfter is how long until the window resets. Set only on denial.
	RetryAfter time.Duration
}

type window struct {
	count int
	start time.Time
}

type shard struct {
	mu      sync.Mutex
	windows map[string]window
}

// Limiter counts events per subject key in a trailing window. State is
// sharded by key so unrelated subjects never contend on one lock.
type Limiter struct {
	name   string
	max    int
	window time.Duration
	now    func() time.Time
	shards [shardCount]*shard
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewLimiter builds a limiter allowing max events per window. The name
// labels the rate-limit trip metric.
func NewLimiter(name string, max int, windowDuration time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		name:   name,
		max:    max,
		window: windowDuration,
		now:    time.Now,
	}
	for i := range l.shards {
		l.shards[i] = &shard{windows: make(map[string]window)}
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return l.shards[h.Sum32()%shardCount]
}

// Hit counts one event for key and reports whether it is allowed.
// Exactly max events succeed per window; the boundary event itself is
// counted before the decision, so the (max+1)-th trips the limiter.
func (l *Limiter) Hit(key string) Result {
	s := l.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := l.now()
	w, ok := s.windows[key]
	if !ok || now.Sub(w.start) > l.window {
		w = window{count: 1, start: now}
	} else {
		w.count++
	}
	s.windows[key] = w

	if w.count > l.max {
		obs.ObserveRateLimited(l.name)
		return Result{
			Count:      w.count,
			RetryAfter: w.start.Add(l.window).Sub(now),
		}
	}
	return Result{Allowed: true, Count: w.count}
}

// Peek returns the live count for key without recording an event.
func (l *Limiter) Peek(key string) int {
	s := l.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || l.now().Sub(w.start) > l.window {
		return 0
	}
	return w.count
}

// Reset clears the window for key. Called after a fully verified login.
func (l *Limiter) Reset(key string) {
	s := l.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
}

// Sweep drops windows that have elapsed so memory stays bounded.
// Returns the number of entries removed.
func (l *Limiter) Sweep() int {
	now := l.now()
	removed := 0
	for _, s := range l.shards {
		s.mu.Lock()
		for key, w := range s.windows {
			if now.Sub(w.start) > l.window {
				delete(s.windows, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Config carries the window parameters for all three counters.
type Config struct {
	LoginMaxFailures   int
	LoginFailureWindow time.Duration
	ResourceViewMax    int
	ResourceViewWindow time.Duration
	APICallMax         int
	APICallWindow      time.Duration
}

// Guard bundles the three counters the gate shares.
type Guard struct {
	LoginFailures *Limiter
	ResourceViews *Limiter
	APICalls      *Limiter
}

// New builds the guard with one limiter per concern.
func New(cfg Config, opts ...Option) *Guard {
	return &Guard{
		LoginFailures: NewLimiter("login_failures", cfg.LoginMaxFailures, cfg.LoginFailureWindow, opts...),
		ResourceViews: NewLimiter("resource_views", cfg.ResourceViewMax, cfg.ResourceViewWindow, opts...),
		APICalls:      NewLimiter("api_calls", cfg.APICallMax, cfg.APICallWindow, opts...),
	}
}

// Run sweeps expired windows on the given interval until ctx is done.
func (g *Guard) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.LoginFailures.Sweep()
			g.ResourceViews.Sweep()
			g.APICalls.Sweep()
		}
	}
}
