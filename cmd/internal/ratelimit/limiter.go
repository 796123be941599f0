// Package ratelimit provides the sliding-window limiter shared by the websocket gateway
// (per-connection event budget) and the gate (failed PIN attempts).
package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultLimit and DefaultWindow apply when New receives invalid inputs.
	DefaultLimit  = 120
	DefaultWindow = 10 * time.Second
)

// Limiter is a sliding-window limiter. Safe for concurrent use.
type Limiter struct {
	mu     sync.Mutex
	events []time.Time
	limit  int
	window time.Duration
}

// New constructs a Limiter with safe defaults when inputs are invalid.
func New(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		events: make([]time.Time, 0, limit+8),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event at time "now" should be permitted, and records it if so.
func (r *Limiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked(now)
	if len(r.events) >= r.limit {
		return false
	}
	r.events = append(r.events, now)
	return true
}

// Blocked reports whether the window is full at "now" without recording anything.
func (r *Limiter) Blocked(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked(now)
	return len(r.events) >= r.limit
}

// Record counts an event at "now" unconditionally.
func (r *Limiter) Record(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked(now)
	r.events = append(r.events, now)
}

// RetryAfter returns how long until the window has room again; 0 if it has room now.
func (r *Limiter) RetryAfter(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked(now)
	if len(r.events) < r.limit {
		return 0
	}
	// The (len-limit)th oldest event must leave the window first.
	oldest := r.events[len(r.events)-r.limit]
	d := oldest.Add(r.window).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Reset forgets every recorded event.
func (r *Limiter) Reset() {
	r.mu.Lock()
	r.events = r.events[:0]
	r.mu.Unlock()
}

func (r *Limiter) pruneLocked(now time.Time) {
	cut := now.Add(-r.window)
	dst := r.events[:0]
	for _, t := range r.events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	r.events = dst
}
