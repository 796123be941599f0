package pin

import "errors"

// Public, stable errors for callers.
var (
	ErrInvalidFormat = errors.New("pin must be 4 to 6 digits")
	ErrInvalidHash   = errors.New("invalid pin hash")
)
