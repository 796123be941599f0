package ratelimit

import (
	"testing"
	"time"
)

func TestLimiter_AllowWithinWindow(t *testing.T) {
	t.Parallel()

	base := time.Unix(1_700_000_000, 0)
	r := New(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !r.Allow(base.Add(time.Duration(i) * time.Second)) {
			t.Fatalf("event %d should be allowed", i)
		}
	}
	if r.Allow(base.Add(5 * time.Second)) {
		t.Fatalf("4th event inside window should be refused")
	}
	if !r.Allow(base.Add(time.Minute + time.Second)) {
		t.Fatalf("event after the window slid should be allowed")
	}
}

func TestLimiter_DefaultsOnInvalidInput(t *testing.T) {
	t.Parallel()

	r := New(0, 0)
	if r.limit != DefaultLimit || r.window != DefaultWindow {
		t.Fatalf("defaults not applied: limit=%d window=%s", r.limit, r.window)
	}
}

func TestLimiter_BlockedRecordReset(t *testing.T) {
	t.Parallel()

	base := time.Unix(1_700_000_000, 0)
	r := New(2, 5*time.Minute)

	if r.Blocked(base) {
		t.Fatalf("empty limiter must not be blocked")
	}
	r.Record(base)
	r.Record(base.Add(time.Second))
	if !r.Blocked(base.Add(2 * time.Second)) {
		t.Fatalf("limiter should be blocked after limit records")
	}

	got := r.RetryAfter(base.Add(2 * time.Second))
	want := 5*time.Minute - 2*time.Second
	if got != want {
		t.Fatalf("RetryAfter=%s want=%s", got, want)
	}

	r.Reset()
	if r.Blocked(base.Add(3 * time.Second)) {
		t.Fatalf("reset limiter must not be blocked")
	}
	if d := r.RetryAfter(base.Add(3 * time.Second)); d != 0 {
		t.Fatalf("RetryAfter after reset=%s want 0", d)
	}
}
