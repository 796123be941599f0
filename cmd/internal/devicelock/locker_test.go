package devicelock

import (
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lockgate/cmd/internal/lockstore"
	"lockgate/cmd/security/pin"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func fastHasher() pin.Config {
	cfg := pin.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func newTestLocker(t *testing.T, store lockstore.Store) (*Locker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	l := New(store, Options{
		Hasher: fastHasher(),
		Now:    clock.Now,
	})
	return l, clock
}

func TestLocker_ScenarioA_FreshDeviceSetPin(t *testing.T) {
	t.Parallel()
	l, _ := newTestLocker(t, lockstore.NewMemoryStore())

	assert.False(t, l.HasPin())
	require.NoError(t, l.SetPin("4821"))
	assert.True(t, l.HasPin())
	assert.False(t, l.IsLocked())

	_, ok := l.LastActivity()
	assert.True(t, ok, "setting a pin stamps an activity baseline")
}

func TestLocker_ScenarioB_IdleLockAndVerify(t *testing.T) {
	t.Parallel()
	l, clock := newTestLocker(t, lockstore.NewMemoryStore())
	require.NoError(t, l.SetPin("4821"))

	clock.Advance(31 * time.Minute)
	require.True(t, l.ShouldAutoLock(30*time.Minute))
	require.NoError(t, l.LockNow())

	assert.False(t, l.VerifyPin("0000"))
	assert.True(t, l.IsLocked(), "failed verification must not unlock")

	assert.True(t, l.VerifyPin("4821"))
	assert.True(t, l.IsLocked(), "verification alone does not change state")

	require.NoError(t, l.Unlock())
	assert.False(t, l.IsLocked())
	assert.False(t, l.ShouldAutoLock(30*time.Minute), "unlock establishes a fresh baseline")
}

func TestLocker_ScenarioC_SharedStorage(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "lock.json")

	s1, err := lockstore.NewFileStore(path, nil)
	require.NoError(t, err)
	s2, err := lockstore.NewFileStore(path, nil)
	require.NoError(t, err)

	tab1, _ := newTestLocker(t, s1)
	tab2, _ := newTestLocker(t, s2)

	require.NoError(t, tab1.SetPin("4821"))
	assert.False(t, tab2.IsLocked())

	require.NoError(t, tab1.LockNow())
	assert.True(t, tab2.IsLocked(), "tab 2 observes the lock without local action")
	assert.True(t, tab2.ShouldAutoLock(0))
}

func TestLocker_ShouldAutoLockBoundary(t *testing.T) {
	t.Parallel()

	cases := []struct {
		elapsed time.Duration
		want    bool
	}{
		{elapsed: 0, want: false},
		{elapsed: 29*time.Minute + 59*time.Second, want: false},
		{elapsed: 30 * time.Minute, want: false},
		{elapsed: 30*time.Minute + time.Millisecond, want: true},
		{elapsed: 2 * time.Hour, want: true},
	}

	for _, tc := range cases {
		l, clock := newTestLocker(t, lockstore.NewMemoryStore())
		require.NoError(t, l.SetPin("4821"))
		clock.Advance(tc.elapsed)

		got := l.ShouldAutoLock(30 * time.Minute)
		assert.Equal(t, tc.want, got, "elapsed=%s", tc.elapsed)
	}
}

func TestLocker_ShouldAutoLockDefaultThreshold(t *testing.T) {
	t.Parallel()
	l, clock := newTestLocker(t, lockstore.NewMemoryStore())
	require.NoError(t, l.SetPin("4821"))

	clock.Advance(DefaultIdleTimeout)
	assert.False(t, l.ShouldAutoLock(0))
	clock.Advance(time.Second)
	assert.True(t, l.ShouldAutoLock(0))
}

func TestLocker_ShouldAutoLockWithoutPin(t *testing.T) {
	t.Parallel()
	store := lockstore.NewMemoryStore()
	l, clock := newTestLocker(t, store)

	// Stale lock flag and activity with no PIN: nothing to lock.
	require.NoError(t, store.Set(lockstore.KeyLocked, "1"))
	require.NoError(t, store.Set(lockstore.KeyLastActivity, "1"))
	clock.Advance(time.Hour)

	assert.False(t, l.ShouldAutoLock(time.Minute))
	assert.False(t, l.State().Locked)
}

func TestLocker_ShouldAutoLockNeverUsedPin(t *testing.T) {
	t.Parallel()
	store := lockstore.NewMemoryStore()
	l, clock := newTestLocker(t, store)

	require.NoError(t, store.Set(lockstore.KeyPin, "4821"))
	clock.Advance(24 * time.Hour)

	assert.False(t, l.ShouldAutoLock(time.Minute))
}

func TestLocker_LockIsSticky(t *testing.T) {
	t.Parallel()
	l, _ := newTestLocker(t, lockstore.NewMemoryStore())
	require.NoError(t, l.SetPin("123456"))
	require.NoError(t, l.LockNow())

	for _, idle := range []time.Duration{0, time.Nanosecond, time.Minute, 1000 * time.Hour} {
		assert.True(t, l.ShouldAutoLock(idle), "idle=%s", idle)
	}
	require.NoError(t, l.LockNow(), "lock is idempotent")
	assert.True(t, l.IsLocked())
}

func TestLocker_ClearPin(t *testing.T) {
	t.Parallel()

	for _, locked := range []bool{false, true} {
		l, _ := newTestLocker(t, lockstore.NewMemoryStore())
		require.NoError(t, l.SetPin("4821"))
		if locked {
			require.NoError(t, l.LockNow())
		}

		require.NoError(t, l.ClearPin())
		assert.False(t, l.HasPin())
		assert.False(t, l.IsLocked())
		assert.False(t, l.ShouldAutoLock(time.Nanosecond))
		_, ok := l.LastActivity()
		assert.False(t, ok)
	}
}

func TestLocker_TouchActivity(t *testing.T) {
	t.Parallel()
	l, clock := newTestLocker(t, lockstore.NewMemoryStore())
	require.NoError(t, l.SetPin("4821"))
	require.NoError(t, l.LockNow())

	before, ok := l.LastActivity()
	require.True(t, ok)

	clock.Advance(time.Minute)
	l.TouchActivity(false)
	after, _ := l.LastActivity()
	assert.Equal(t, before, after, "background input must not refresh activity while locked")

	l.TouchActivity(true)
	forced, _ := l.LastActivity()
	assert.Equal(t, clock.Now().UnixMilli(), forced.UnixMilli())

	require.NoError(t, l.Unlock())
	clock.Advance(time.Minute)
	l.TouchActivity(false)
	unlocked, _ := l.LastActivity()
	assert.Equal(t, clock.Now().UnixMilli(), unlocked.UnixMilli())
}

func TestLocker_SetPinInvalidFormat(t *testing.T) {
	t.Parallel()
	store := lockstore.NewMemoryStore()
	l, _ := newTestLocker(t, store)

	for _, bad := range []string{"", "12", "1234567", "12ab"} {
		assert.ErrorIs(t, l.SetPin(bad), pin.ErrInvalidFormat, "pin=%q", bad)
	}
	assert.False(t, l.HasPin())
	_, ok, _ := store.Get(lockstore.KeyLocked)
	assert.False(t, ok, "no mutation on invalid format")
}

func TestLocker_SetPinRotates(t *testing.T) {
	t.Parallel()
	l, _ := newTestLocker(t, lockstore.NewMemoryStore())
	require.NoError(t, l.SetPin("1111"))
	require.NoError(t, l.LockNow())

	require.NoError(t, l.SetPin("2222"))
	assert.False(t, l.IsLocked(), "new pin starts unlocked")
	assert.False(t, l.VerifyPin("1111"))
	assert.True(t, l.VerifyPin("2222"))
}

func TestLocker_PinStoredHashed(t *testing.T) {
	t.Parallel()
	store := lockstore.NewMemoryStore()
	l, _ := newTestLocker(t, store)
	require.NoError(t, l.SetPin("4821"))

	stored, ok, err := store.Get(lockstore.KeyPin)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, pin.IsHash(stored))
	assert.NotContains(t, stored, "4821")
}

func TestLocker_LegacyPlaintextUpgraded(t *testing.T) {
	t.Parallel()
	store := lockstore.NewMemoryStore()
	l, _ := newTestLocker(t, store)
	require.NoError(t, store.Set(lockstore.KeyPin, "4821"))

	assert.False(t, l.VerifyPin("1234"))
	stored, _, _ := store.Get(lockstore.KeyPin)
	assert.Equal(t, "4821", stored, "mismatch leaves the secret untouched")

	assert.True(t, l.VerifyPin("4821"))
	stored, _, _ = store.Get(lockstore.KeyPin)
	assert.True(t, pin.IsHash(stored))
	assert.True(t, l.VerifyPin("4821"))
}

func TestLocker_VerifyWithoutPin(t *testing.T) {
	t.Parallel()
	l, _ := newTestLocker(t, lockstore.NewMemoryStore())
	assert.False(t, l.VerifyPin("0000"))
	assert.False(t, l.VerifyPin(""))
}

func TestLocker_StorageUnavailable(t *testing.T) {
	t.Parallel()
	l, _ := newTestLocker(t, lockstore.Unavailable{})

	var events []Event
	l.Events().Subscribe(func(ev Event) { events = append(events, ev) })

	assert.False(t, l.Available())
	assert.False(t, l.HasPin())
	assert.False(t, l.IsLocked())
	assert.False(t, l.ShouldAutoLock(time.Nanosecond))
	assert.False(t, l.VerifyPin("4821"))
	assert.ErrorIs(t, l.SetPin("4821"), lockstore.ErrUnavailable)
	assert.ErrorIs(t, l.LockNow(), lockstore.ErrUnavailable)
	assert.Empty(t, events, "no transition happened")

	st := l.State()
	assert.Equal(t, State{}, st)
}

func TestLocker_EventsWriteThenNotify(t *testing.T) {
	t.Parallel()
	l, _ := newTestLocker(t, lockstore.NewMemoryStore())

	type seen struct {
		ev     Event
		locked bool
		hasPin bool
	}
	var got []seen
	l.Events().Subscribe(func(ev Event) {
		got = append(got, seen{ev: ev, locked: l.IsLocked(), hasPin: l.HasPin()})
	})

	require.NoError(t, l.SetPin("4821"))
	require.NoError(t, l.LockNow())
	require.NoError(t, l.Unlock())
	require.NoError(t, l.LockNow())
	require.NoError(t, l.ClearPin())

	want := []seen{
		{ev: EventUnlocked, locked: false, hasPin: true},
		{ev: EventLocked, locked: true, hasPin: true},
		{ev: EventUnlocked, locked: false, hasPin: true},
		{ev: EventLocked, locked: true, hasPin: true},
		{ev: EventUnlocked, locked: false, hasPin: false},
	}
	assert.Equal(t, want, got)
}

func TestLocker_TimestampFormat(t *testing.T) {
	t.Parallel()
	store := lockstore.NewMemoryStore()
	l, clock := newTestLocker(t, store)
	require.NoError(t, l.SetPin("4821"))

	raw, ok, err := store.Get(lockstore.KeyLastActivity)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, strconv.FormatInt(clock.Now().UnixMilli(), 10), raw)

	flag, _, _ := store.Get(lockstore.KeyLocked)
	assert.Equal(t, "0", flag)
	require.NoError(t, l.LockNow())
	flag, _, _ = store.Get(lockstore.KeyLocked)
	assert.Equal(t, "1", flag)
}

func TestIdleExceeded(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		last time.Time
		want bool
	}{
		{name: "never", last: time.Time{}, want: false},
		{name: "fresh", last: now.Add(-time.Minute), want: false},
		{name: "exact", last: now.Add(-30 * time.Minute), want: false},
		{name: "over", last: now.Add(-30*time.Minute - time.Millisecond), want: true},
		{name: "future", last: now.Add(time.Hour), want: false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, IdleExceeded(tc.last, now, 30*time.Minute), tc.name)
	}
}
