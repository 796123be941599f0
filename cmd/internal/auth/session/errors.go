package session

import "errors"

var (
	// ErrInvalidSessionID is returned when a session ID is not a well-formed ULID.
	ErrInvalidSessionID = errors.New("invalid session id")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
