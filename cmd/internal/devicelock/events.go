package devicelock

import (
	"log/slog"
	"sync"
)

// Event is a lock state transition signal. Events carry no payload: listeners re-read
// state from the Locker.
type Event uint8

const (
	// EventLocked fires after the lock flag was persisted as locked.
	EventLocked Event = iota + 1
	// EventUnlocked fires after the device became effectively unlocked (unlock or PIN cleared).
	EventUnlocked
)

func (e Event) String() string {
	switch e {
	case EventLocked:
		return "locked"
	case EventUnlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

// Broadcaster fans lock events out to every subscribed listener.
//
// Delivery is synchronous on the publishing goroutine, to a snapshot of listeners taken at
// publish time. No ordering between listeners is guaranteed. A panicking listener is logged
// and does not stop delivery to the others.
type Broadcaster struct {
	log *slog.Logger

	mu        sync.RWMutex
	nextID    uint64
	listeners map[uint64]func(Event)
}

// NewBroadcaster constructs an empty Broadcaster.
func NewBroadcaster(log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{
		log:       log,
		listeners: make(map[uint64]func(Event)),
	}
}

// Subscribe registers fn for every event and returns an idempotent unsubscribe func.
func (b *Broadcaster) Subscribe(fn func(Event)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

// On registers fn for one event kind only.
func (b *Broadcaster) On(kind Event, fn func()) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	return b.Subscribe(func(ev Event) {
		if ev == kind {
			fn()
		}
	})
}

// Publish delivers ev to all current listeners.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	snapshot := make([]func(Event), 0, len(b.listeners))
	for _, fn := range b.listeners {
		snapshot = append(snapshot, fn)
	}
	b.mu.RUnlock()

	for _, fn := range snapshot {
		b.deliver(fn, ev)
	}
}

// Len returns the number of registered listeners.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

func (b *Broadcaster) deliver(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("lock.event.listener.panic", "event", ev.String(), "panic", r)
		}
	}()
	fn(ev)
}
