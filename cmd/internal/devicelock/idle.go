package devicelock

import "time"

// DefaultIdleTimeout is the idle threshold used when callers pass a non-positive duration.
const DefaultIdleTimeout = 30 * time.Minute

// IdleExceeded reports whether more than threshold elapsed between last and now.
// Exactly threshold is not idle. A zero last (no activity ever recorded) is never idle.
func IdleExceeded(last, now time.Time, threshold time.Duration) bool {
	if last.IsZero() {
		return false
	}
	return now.Sub(last) > threshold
}
