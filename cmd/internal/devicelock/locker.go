package devicelock

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"lockgate/cmd/internal/lockstore"
	"lockgate/cmd/security/pin"
)

const (
	flagLocked   = "1"
	flagUnlocked = "0"
)

// Hasher turns PINs into stored secrets and checks candidates against them.
// pin.Config implements it.
type Hasher interface {
	Validate(pin string) error
	Hash(pin string) (string, error)
	Verify(stored, candidate string) (ok bool, needsRehash bool, err error)
}

// Options configures a Locker. Zero values select defaults.
type Options struct {
	Hasher      Hasher
	Events      *Broadcaster
	Logger      *slog.Logger
	Now         func() time.Time
	IdleTimeout time.Duration
}

// State is a point-in-time view of the persisted lock state.
type State struct {
	// Available is false when the store could not be read.
	Available bool
	HasPin    bool
	// Locked is the effective lock state: never true without a PIN.
	Locked       bool
	LastActivity time.Time
}

// Locker is the authoritative Locked/Unlocked state machine for one device profile.
type Locker struct {
	store  lockstore.Store
	hasher Hasher
	events *Broadcaster
	log    *slog.Logger
	now    func() time.Time
	idle   time.Duration
}

// New constructs a Locker over store.
func New(store lockstore.Store, opts Options) *Locker {
	if store == nil {
		store = lockstore.Unavailable{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Hasher == nil {
		opts.Hasher = pin.DefaultConfig()
	}
	if opts.Events == nil {
		opts.Events = NewBroadcaster(opts.Logger)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}

	return &Locker{
		store:  store,
		hasher: opts.Hasher,
		events: opts.Events,
		log:    opts.Logger,
		now:    opts.Now,
		idle:   opts.IdleTimeout,
	}
}

// Events returns the broadcaster lock transitions are published on.
func (l *Locker) Events() *Broadcaster { return l.events }

// IdleTimeout returns the default idle threshold.
func (l *Locker) IdleTimeout() time.Duration { return l.idle }

// Available reports whether the store can currently be read.
func (l *Locker) Available() bool {
	_, _, err := l.store.Get(lockstore.KeyPin)
	return err == nil
}

// HasPin reports whether a PIN secret is configured. Read failures count as "no PIN".
func (l *Locker) HasPin() bool {
	v, ok, err := l.store.Get(lockstore.KeyPin)
	if err != nil {
		l.log.Warn("lock.store.read.fail", "key", lockstore.KeyPin, "err", err)
		return false
	}
	return ok && v != ""
}

// IsLocked returns the raw persisted lock flag.
func (l *Locker) IsLocked() bool {
	v, ok, err := l.store.Get(lockstore.KeyLocked)
	if err != nil {
		l.log.Warn("lock.store.read.fail", "key", lockstore.KeyLocked, "err", err)
		return false
	}
	return ok && v == flagLocked
}

// LastActivity returns the recorded last-activity time; ok=false if none was recorded.
func (l *Locker) LastActivity() (time.Time, bool) {
	v, ok, err := l.store.Get(lockstore.KeyLastActivity)
	if err != nil {
		l.log.Warn("lock.store.read.fail", "key", lockstore.KeyLastActivity, "err", err)
		return time.Time{}, false
	}
	if !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// State returns a snapshot of the persisted lock state.
func (l *Locker) State() State {
	st := State{Available: l.Available()}
	if !st.Available {
		return st
	}
	st.HasPin = l.HasPin()
	st.Locked = st.HasPin && l.IsLocked()
	st.LastActivity, _ = l.LastActivity()
	return st
}

// ShouldAutoLock reports whether the device must be (or stay) locked.
//
// No PIN: false. Already locked: true. No activity ever recorded: false.
// Otherwise true iff more than idle elapsed since the last activity.
// A non-positive idle uses the configured default.
func (l *Locker) ShouldAutoLock(idle time.Duration) bool {
	if !l.HasPin() {
		return false
	}
	if l.IsLocked() {
		return true
	}
	if idle <= 0 {
		idle = l.idle
	}
	last, ok := l.LastActivity()
	if !ok {
		return false
	}
	return IdleExceeded(last, l.now(), idle)
}

// TouchActivity records now as the last activity.
// While locked it is a no-op unless force is set, so background input cannot refresh
// activity behind the lock screen.
func (l *Locker) TouchActivity(force bool) {
	if !force && l.IsLocked() {
		return
	}
	stamp := strconv.FormatInt(l.now().UnixMilli(), 10)
	if err := l.store.Set(lockstore.KeyLastActivity, stamp); err != nil {
		l.log.Warn("lock.store.write.fail", "key", lockstore.KeyLastActivity, "err", err)
	}
}

// SetPin validates, hashes and persists a new PIN, then unlocks.
// Returns pin.ErrInvalidFormat without touching the store for malformed input.
func (l *Locker) SetPin(p string) error {
	if err := l.hasher.Validate(p); err != nil {
		return err
	}
	hashed, err := l.hasher.Hash(p)
	if err != nil {
		return fmt.Errorf("hash pin: %w", err)
	}
	if err := l.store.Set(lockstore.KeyPin, hashed); err != nil {
		l.log.Warn("lock.pin.set.fail", "err", err)
		return err
	}
	l.log.Info("lock.pin.set")
	return l.Unlock()
}

// ClearPin forgets the PIN, the lock flag and the activity timestamp, then publishes
// EventUnlocked: without a PIN the device is effectively unlocked.
func (l *Locker) ClearPin() error {
	var errs []error
	for _, key := range []string{lockstore.KeyPin, lockstore.KeyLocked, lockstore.KeyLastActivity} {
		if err := l.store.Remove(key); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		l.log.Warn("lock.pin.clear.fail", "err", err)
	} else {
		l.log.Info("lock.pin.cleared")
	}
	l.events.Publish(EventUnlocked)
	return err
}

// LockNow persists the locked flag and publishes EventLocked. Idempotent.
func (l *Locker) LockNow() error {
	if err := l.store.Set(lockstore.KeyLocked, flagLocked); err != nil {
		l.log.Warn("lock.lock.fail", "err", err)
		return err
	}
	l.log.Debug("lock.locked")
	l.events.Publish(EventLocked)
	return nil
}

// Unlock persists the unlocked flag, stamps a fresh activity baseline and publishes EventUnlocked.
func (l *Locker) Unlock() error {
	if err := l.store.Set(lockstore.KeyLocked, flagUnlocked); err != nil {
		l.log.Warn("lock.unlock.fail", "err", err)
		return err
	}
	l.TouchActivity(true)
	l.log.Debug("lock.unlocked")
	l.events.Publish(EventUnlocked)
	return nil
}

// VerifyPin compares candidate with the stored secret. It never changes the lock state;
// callers unlock on success and re-lock on failure.
//
// A legacy plaintext secret that matches is replaced by its hash.
func (l *Locker) VerifyPin(candidate string) bool {
	stored, ok, err := l.store.Get(lockstore.KeyPin)
	if err != nil {
		l.log.Warn("lock.store.read.fail", "key", lockstore.KeyPin, "err", err)
		return false
	}
	if !ok || stored == "" {
		return false
	}

	match, needsRehash, err := l.hasher.Verify(stored, candidate)
	if err != nil {
		l.log.Warn("lock.pin.verify.fail", "err", err)
		return false
	}
	if match && needsRehash {
		l.upgradeSecret(candidate)
	}
	return match
}

func (l *Locker) upgradeSecret(candidate string) {
	hashed, err := l.hasher.Hash(candidate)
	if err != nil {
		l.log.Warn("lock.pin.rehash.fail", "err", err)
		return
	}
	if err := l.store.Set(lockstore.KeyPin, hashed); err != nil {
		l.log.Warn("lock.pin.rehash.fail", "err", err)
		return
	}
	l.log.Info("lock.pin.rehashed")
}
