package realtime

import (
	"time"

	"lockgate/cmd/internal/ids"
)

// NewClientID returns a ULID identifying one connected UI region.
func NewClientID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewEnvelopeID returns a ULID used as envelope id.
// ULID is preferable to random hex for tracing and ordering in logs.
func NewEnvelopeID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
