package gate

import "sync"

// Signals carries UI-region input and visibility events into the gate.
// Transports call EmitInput/EmitVisibility; the active session scope listens.
type Signals struct {
	mu         sync.Mutex
	nextID     uint64
	input      map[uint64]func()
	visibility map[uint64]func(visible bool)
}

// NewSignals constructs an empty Signals.
func NewSignals() *Signals {
	return &Signals{
		input:      make(map[uint64]func()),
		visibility: make(map[uint64]func(bool)),
	}
}

// OnInput registers fn for user input (pointer, touch, key).
func (s *Signals) OnInput(fn func()) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.input[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.input, id)
			s.mu.Unlock()
		})
	}
}

// OnVisibility registers fn for visibility changes of a UI region.
func (s *Signals) OnVisibility(fn func(visible bool)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.visibility[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.visibility, id)
			s.mu.Unlock()
		})
	}
}

// EmitInput notifies input listeners.
func (s *Signals) EmitInput() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.input))
	for _, fn := range s.input {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// EmitVisibility notifies visibility listeners.
func (s *Signals) EmitVisibility(visible bool) {
	s.mu.Lock()
	fns := make([]func(bool), 0, len(s.visibility))
	for _, fn := range s.visibility {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(visible)
	}
}

// Len returns the number of registered listeners of both kinds.
func (s *Signals) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.input) + len(s.visibility)
}
