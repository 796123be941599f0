package gate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"lockgate/cmd/internal/auth/session"
	"lockgate/cmd/internal/devicelock"
	"lockgate/cmd/internal/ratelimit"
)

const (
	// DefaultMaxAttempts failed PIN submissions are allowed per DefaultAttemptWindow.
	DefaultMaxAttempts   = 5
	DefaultAttemptWindow = 5 * time.Minute
)

// Options configures a Gate. Zero values select defaults.
type Options struct {
	Logger        *slog.Logger
	Signals       *Signals
	Observer      Observer
	PollInterval  time.Duration
	MaxAttempts   int
	AttemptWindow time.Duration
	Now           func() time.Time
	NewTicker     func(time.Duration) Ticker
}

// Status is a point-in-time view of the gate.
type Status struct {
	Screen  Screen
	Present bool
	Lock    devicelock.State
}

// Gate is the session-gate orchestrator.
//
// Lock ordering: transMu (session transitions) before opMu (lock-state operations) before
// notifyMu (screen delivery) before mu (fields). No mutex except opMu is held while calling
// into the Locker, and opMu is never held while calling into the session Source.
type Gate struct {
	locker    *devicelock.Locker
	source    session.Source
	signals   *Signals
	obs       Observer
	log       *slog.Logger
	poll      time.Duration
	now       func() time.Time
	newTicker func(time.Duration) Ticker
	attempts  *ratelimit.Limiter

	transMu  sync.Mutex
	opMu     sync.Mutex
	notifyMu sync.Mutex

	mu          sync.Mutex
	screen      Screen
	present     bool
	scope       *scope
	seq         uint64
	started     bool
	closed      bool
	unsubSource func()
	nextID      uint64
	listeners   map[uint64]func(Screen)
}

// New constructs a Gate. The screen is AuthLoading until Start resolves the session.
func New(locker *devicelock.Locker, source session.Source, opts Options) *Gate {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if locker == nil {
		locker = devicelock.New(nil, devicelock.Options{Logger: opts.Logger})
	}
	if source == nil {
		source = session.NewMemorySource(false, opts.Logger)
	}
	if opts.Signals == nil {
		opts.Signals = NewSignals()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.AttemptWindow <= 0 {
		opts.AttemptWindow = DefaultAttemptWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewTicker == nil {
		opts.NewTicker = NewStdTicker
	}

	return &Gate{
		locker:    locker,
		source:    source,
		signals:   opts.Signals,
		obs:       opts.Observer,
		log:       opts.Logger,
		poll:      opts.PollInterval,
		now:       opts.Now,
		newTicker: opts.NewTicker,
		attempts:  ratelimit.New(opts.MaxAttempts, opts.AttemptWindow),
		screen:    ScreenAuthLoading,
		listeners: make(map[uint64]func(Screen)),
	}
}

// Signals returns the input/visibility channel transports feed.
func (g *Gate) Signals() *Signals { return g.signals }

// Locker returns the underlying lock state machine.
func (g *Gate) Locker() *devicelock.Locker { return g.locker }

// Screen returns the current screen.
func (g *Gate) Screen() Screen {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.screen
}

// Status returns the current screen, presence and persisted lock state.
func (g *Gate) Status() Status {
	g.mu.Lock()
	st := Status{Screen: g.screen, Present: g.present}
	g.mu.Unlock()
	st.Lock = g.locker.State()
	return st
}

// OnScreen registers fn for screen changes and returns an idempotent unsubscribe func.
// fn is called with screens in the order they were set; it must not block or call gate actions.
func (g *Gate) OnScreen(fn func(Screen)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	g.mu.Lock()
	g.nextID++
	id := g.nextID
	g.listeners[id] = fn
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.listeners, id)
			g.mu.Unlock()
		})
	}
}

// Start subscribes to session changes and resolves the initial snapshot.
// A snapshot failure other than ctx cancellation is treated as "no session".
func (g *Gate) Start(ctx context.Context) error {
	g.mu.Lock()
	switch {
	case g.closed:
		g.mu.Unlock()
		return ErrClosed
	case g.started:
		g.mu.Unlock()
		return ErrAlreadyStarted
	}
	g.started = true
	seq := g.seq
	g.mu.Unlock()

	unsub := g.source.Subscribe(g.HandleSession)
	g.mu.Lock()
	g.unsubSource = unsub
	g.mu.Unlock()

	present, err := g.source.Snapshot(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		g.log.Warn("gate.session.snapshot.fail", "err", err)
		present = false
	}

	g.transMu.Lock()
	defer g.transMu.Unlock()

	g.mu.Lock()
	stale := g.seq != seq || g.closed
	g.mu.Unlock()
	if stale {
		// A change notification already superseded the snapshot.
		return nil
	}
	g.applySession(present)
	return nil
}

// Run starts the gate and closes it when ctx is done.
func (g *Gate) Run(ctx context.Context) error {
	if err := g.Start(ctx); err != nil {
		if ctx.Err() != nil {
			g.Close()
			return nil
		}
		return err
	}
	<-ctx.Done()
	g.Close()
	return nil
}

// HandleSession applies a remote presence change. It is the Source subscription callback.
func (g *Gate) HandleSession(present bool) {
	g.transMu.Lock()
	defer g.transMu.Unlock()
	g.applySession(present)
}

// Close tears down the active scope and stops observing the session source.
func (g *Gate) Close() {
	g.transMu.Lock()
	defer g.transMu.Unlock()

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.present = false
	unsub := g.unsubSource
	g.unsubSource = nil
	g.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	g.teardown()
	g.transition(nil, ScreenAuthLoading)
	g.log.Debug("gate.closed")
}

// applySession requires transMu.
func (g *Gate) applySession(present bool) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.seq++
	g.present = present
	g.mu.Unlock()

	g.teardown()

	if !present {
		g.attempts.Reset()
		g.transition(nil, ScreenLoginRequired)
		g.log.Info("gate.session.lost")
		return
	}
	g.acquire()
}

// acquire requires transMu and no active scope.
func (g *Gate) acquire() {
	g.opMu.Lock()
	defer g.opMu.Unlock()

	first := g.initialScreen()

	sc := newScope()
	g.mu.Lock()
	g.scope = sc
	g.mu.Unlock()

	events := g.locker.Events()
	sc.add(events.On(devicelock.EventLocked, func() { g.onLocked(sc) }))
	sc.add(events.On(devicelock.EventUnlocked, func() { g.onUnlocked(sc) }))
	sc.add(g.signals.OnInput(func() { g.onInput(sc) }))
	sc.add(g.signals.OnVisibility(func(visible bool) { g.onVisibility(sc, visible) }))
	sc.run(g.newTicker(g.poll), func() { g.tick(sc) })

	g.transition(sc, first)
	g.log.Info("gate.session.acquired", "screen", first.String())
}

func (g *Gate) teardown() {
	g.mu.Lock()
	sc := g.scope
	g.scope = nil
	g.mu.Unlock()

	if sc != nil {
		sc.close()
	}
}

// initialScreen reads the store fresh; a stale idle session locks before anything is shown.
func (g *Gate) initialScreen() Screen {
	if !g.locker.Available() {
		g.log.Warn("gate.store.unavailable")
		return ScreenUnlocked
	}
	if !g.locker.HasPin() {
		return ScreenPinSetupRequired
	}
	if g.locker.ShouldAutoLock(0) {
		if !g.locker.IsLocked() {
			g.autoLock(CauseResume)
		}
		return ScreenPinLocked
	}
	return ScreenUnlocked
}

// storeScreen maps persisted state to a screen for an active session.
func (g *Gate) storeScreen() Screen {
	st := g.locker.State()
	switch {
	case !st.Available:
		return ScreenUnlocked
	case !st.HasPin:
		return ScreenPinSetupRequired
	case st.Locked:
		return ScreenPinLocked
	default:
		return ScreenUnlocked
	}
}

func (g *Gate) autoLock(cause string) {
	if err := g.locker.LockNow(); err != nil {
		g.log.Warn("gate.autolock.fail", "cause", cause, "err", err)
		return
	}
	g.obs.AutoLocked(cause)
	g.log.Info("gate.autolock", "cause", cause)
}

func (g *Gate) onLocked(sc *scope) {
	g.transition(sc, ScreenPinLocked)
}

func (g *Gate) onUnlocked(sc *scope) {
	if !g.locker.Available() {
		g.transition(sc, ScreenUnlocked)
		return
	}
	if !g.locker.HasPin() {
		g.transition(sc, ScreenPinSetupRequired)
		return
	}
	g.transition(sc, ScreenUnlocked)
}

func (g *Gate) onInput(sc *scope) {
	g.opMu.Lock()
	defer g.opMu.Unlock()

	if !g.isCurrent(sc) {
		return
	}
	g.locker.TouchActivity(false)
}

func (g *Gate) onVisibility(sc *scope, visible bool) {
	if !visible {
		return
	}
	g.opMu.Lock()
	defer g.opMu.Unlock()

	if !g.isCurrent(sc) {
		return
	}
	if g.locker.ShouldAutoLock(0) {
		if !g.locker.IsLocked() {
			g.autoLock(CauseVisibility)
		}
		g.transition(sc, ScreenPinLocked)
		return
	}
	g.locker.TouchActivity(false)
}

// tick is the idle safety net. It also picks up lock changes made by other processes
// sharing the store.
func (g *Gate) tick(sc *scope) {
	g.opMu.Lock()
	defer g.opMu.Unlock()

	if !g.isCurrent(sc) {
		return
	}
	if g.locker.ShouldAutoLock(0) && !g.locker.IsLocked() {
		g.autoLock(CauseIdle)
	}
	g.transition(sc, g.storeScreen())
}

func (g *Gate) isCurrent(sc *scope) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return sc != nil && g.scope == sc
}

// transition sets the screen and notifies listeners. A non-nil sc makes it conditional on
// sc still being the active scope.
func (g *Gate) transition(sc *scope, to Screen) {
	g.notifyMu.Lock()
	defer g.notifyMu.Unlock()

	g.mu.Lock()
	if sc != nil && g.scope != sc {
		g.mu.Unlock()
		return
	}
	from := g.screen
	if from == to {
		g.mu.Unlock()
		return
	}
	g.screen = to
	fns := make([]func(Screen), 0, len(g.listeners))
	for _, fn := range g.listeners {
		fns = append(fns, fn)
	}
	g.mu.Unlock()

	g.log.Debug("gate.screen.change", "from", from.String(), "to", to.String())
	g.obs.ScreenChanged(from, to)
	for _, fn := range fns {
		g.deliver(fn, to)
	}
}

func (g *Gate) deliver(fn func(Screen), s Screen) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("gate.screen.listener.panic", "screen", s.String(), "panic", r)
		}
	}()
	fn(s)
}
