// Package lockstore provides durable, synchronous key-value storage scoped to one device profile.
//
// It holds the device lock state: the PIN secret, the lock flag and the last-activity timestamp.
// Backends are shared by every process running against the same profile, so writes from one
// process are visible to the others on their next read (last write wins, no cross-process locking).
package lockstore

import "errors"

// Keys of the persisted lock state.
const (
	KeyPin          = "lockgate.pin"
	KeyLocked       = "lockgate.locked"
	KeyLastActivity = "lockgate.last_activity"
)

// ErrUnavailable is returned when the backing storage cannot be used (disabled, full, unreadable).
var ErrUnavailable = errors.New("lock store unavailable")

// Store is the device-local key-value contract.
//
// Get reports ok=false for a missing key. All operations are synchronous.
type Store interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
}

// Unavailable is a Store that always fails. It stands in for a backend that could not be opened
// so that callers can degrade instead of refusing to start.
type Unavailable struct {
	Err error
}

func (u Unavailable) err() error {
	if u.Err == nil {
		return ErrUnavailable
	}
	return errors.Join(ErrUnavailable, u.Err)
}

// Get always fails.
func (u Unavailable) Get(string) (string, bool, error) { return "", false, u.err() }

// Set always fails.
func (u Unavailable) Set(string, string) error { return u.err() }

// Remove always fails.
func (u Unavailable) Remove(string) error { return u.err() }
