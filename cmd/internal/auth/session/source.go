package session

import (
	"context"
	"log/slog"
	"sync"
)

// Source reports remote session presence.
type Source interface {
	// Snapshot resolves the current presence. It may block on I/O.
	Snapshot(ctx context.Context) (bool, error)

	// Subscribe registers fn for presence changes and returns an idempotent unsubscribe func.
	// fn runs on the goroutine that observed the change and must not block.
	Subscribe(fn func(present bool)) (unsubscribe func())

	// SignOut ends the remote session. Presence is false afterwards even when the remote
	// call fails; the error is still returned.
	SignOut(ctx context.Context) error
}

// fanout is the listener registry shared by Source implementations.
type fanout struct {
	log *slog.Logger

	mu        sync.Mutex
	nextID    uint64
	listeners map[uint64]func(bool)
}

func newFanout(log *slog.Logger) *fanout {
	if log == nil {
		log = slog.Default()
	}
	return &fanout{log: log, listeners: make(map[uint64]func(bool))}
}

func (f *fanout) subscribe(fn func(bool)) func() {
	if fn == nil {
		return func() {}
	}

	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.listeners[id] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.listeners, id)
			f.mu.Unlock()
		})
	}
}

func (f *fanout) publish(present bool) {
	f.mu.Lock()
	snapshot := make([]func(bool), 0, len(f.listeners))
	for _, fn := range f.listeners {
		snapshot = append(snapshot, fn)
	}
	f.mu.Unlock()

	for _, fn := range snapshot {
		f.deliver(fn, present)
	}
}

func (f *fanout) deliver(fn func(bool), present bool) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Error("session.listener.panic", "present", present, "panic", r)
		}
	}()
	fn(present)
}
