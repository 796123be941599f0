package session

import (
	"context"
	"log/slog"
	"sync"

	"lockgate/cmd/internal/ids"
)

// MemorySource is an in-process Source. Presence is driven by SetPresent.
// It backs the standalone daemon (sessions adopted over HTTP) and tests.
type MemorySource struct {
	fan *fanout

	mu        sync.Mutex
	present   bool
	sessionID string
}

// NewMemorySource constructs a MemorySource with the given initial presence.
func NewMemorySource(present bool, log *slog.Logger) *MemorySource {
	return &MemorySource{fan: newFanout(log), present: present}
}

// Snapshot implements Source.
func (s *MemorySource) Snapshot(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.present, nil
}

// Subscribe implements Source.
func (s *MemorySource) Subscribe(fn func(bool)) func() {
	return s.fan.subscribe(fn)
}

// Adopt records sessionID and marks the session present. There is no remote row to check.
// Switching to a different session while one is present publishes false then true, so
// subscribers see a session boundary.
func (s *MemorySource) Adopt(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ids.Valid(sessionID) {
		return ErrInvalidSessionID
	}
	s.mu.Lock()
	switched := s.present && s.sessionID != sessionID
	s.sessionID = sessionID
	s.mu.Unlock()

	if switched {
		s.SetPresent(false)
	}
	s.SetPresent(true)
	return nil
}

// SessionID returns the adopted session ID ("" when none).
func (s *MemorySource) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// SetPresent updates presence and notifies subscribers when it changed.
func (s *MemorySource) SetPresent(present bool) {
	s.mu.Lock()
	changed := s.present != present
	s.present = present
	s.mu.Unlock()

	if changed {
		s.fan.publish(present)
	}
}

// SignOut implements Source. It forgets the adopted session ID.
func (s *MemorySource) SignOut(context.Context) error {
	s.mu.Lock()
	s.sessionID = ""
	s.mu.Unlock()

	s.SetPresent(false)
	return nil
}
