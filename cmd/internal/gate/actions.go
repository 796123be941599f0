package gate

import (
	"context"
	"errors"
)

// SubmitPin checks candidate on the lock screen. A match unlocks; a mismatch re-affirms the
// lock and returns (false, nil). While failed attempts are throttled it returns an
// AttemptsError without checking the candidate.
func (g *Gate) SubmitPin(candidate string) (bool, error) {
	g.opMu.Lock()
	defer g.opMu.Unlock()

	if err := g.requireSession(); err != nil {
		return false, err
	}
	if !g.locker.HasPin() {
		return false, ErrNoPin
	}

	now := g.now()
	if g.attempts.Blocked(now) {
		g.obs.PinThrottled()
		retry := g.attempts.RetryAfter(now)
		g.log.Warn("gate.pin.throttled", "retry_after", retry)
		return false, AttemptsError{RetryAfter: retry}
	}

	if g.locker.VerifyPin(candidate) {
		g.attempts.Reset()
		g.obs.PinVerified(true)
		if err := g.locker.Unlock(); err != nil {
			return false, err
		}
		g.log.Info("gate.pin.accepted")
		return true, nil
	}

	g.attempts.Record(now)
	g.obs.PinVerified(false)
	g.log.Info("gate.pin.rejected")
	if err := g.locker.LockNow(); err != nil {
		return false, err
	}
	return false, nil
}

// CreatePin sets the first PIN on the setup screen and unlocks.
// An existing PIN cannot be replaced this way; use ForgetPin.
func (g *Gate) CreatePin(p string) error {
	g.opMu.Lock()
	defer g.opMu.Unlock()

	if err := g.requireSession(); err != nil {
		return err
	}
	if g.locker.HasPin() {
		return ErrPinExists
	}
	if err := g.locker.SetPin(p); err != nil {
		return err
	}
	g.attempts.Reset()
	return nil
}

// Lock locks the device immediately (header lock button).
func (g *Gate) Lock() error {
	g.opMu.Lock()
	defer g.opMu.Unlock()

	if err := g.requireSession(); err != nil {
		return err
	}
	if !g.locker.HasPin() {
		return ErrNoPin
	}
	return g.locker.LockNow()
}

// ForgetPin ends the remote session and clears the PIN. The user must sign in again
// before setting a new PIN, so forgetting cannot bypass the lock screen.
func (g *Gate) ForgetPin(ctx context.Context) error {
	if err := g.requireSession(); err != nil {
		return err
	}

	signErr := g.source.SignOut(ctx)

	g.opMu.Lock()
	clearErr := g.locker.ClearPin()
	g.attempts.Reset()
	g.opMu.Unlock()

	g.log.Info("gate.pin.forgotten")
	return errors.Join(signErr, clearErr)
}

// SignOut ends the remote session. The resulting presence change tears the scope down.
func (g *Gate) SignOut(ctx context.Context) error {
	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if err := g.source.SignOut(ctx); err != nil {
		g.log.Warn("gate.signout.fail", "err", err)
		return err
	}
	g.log.Info("gate.signout")
	return nil
}

func (g *Gate) requireSession() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sessionErrLocked()
}

func (g *Gate) sessionErrLocked() error {
	if g.closed {
		return ErrClosed
	}
	if g.scope == nil {
		return ErrNoSession
	}
	return nil
}
