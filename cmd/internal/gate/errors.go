package gate

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoSession is returned by actions when no remote session is present.
	ErrNoSession = errors.New("no remote session")

	// ErrNoPin is returned when an action needs a configured PIN.
	ErrNoPin = errors.New("no pin configured")

	// ErrPinExists is returned by CreatePin when a PIN is already configured.
	ErrPinExists = errors.New("pin already configured")

	// ErrTooManyAttempts is returned by SubmitPin while failed attempts are throttled.
	ErrTooManyAttempts = errors.New("too many failed pin attempts")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("gate already started")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("gate closed")
)

// AttemptsError carries retry metadata for PIN throttling.
type AttemptsError struct {
	RetryAfter time.Duration
}

func (e AttemptsError) Error() string {
	if e.RetryAfter <= 0 {
		return ErrTooManyAttempts.Error()
	}
	return fmt.Sprintf("%s: retry after %s", ErrTooManyAttempts.Error(), e.RetryAfter)
}

func (e AttemptsError) Unwrap() error { return ErrTooManyAttempts }
