package gate

import "sync"

// scope owns everything attached for one remote session: listener registrations and the
// idle-check ticker goroutine. close releases them as one unit.
type scope struct {
	mu     sync.Mutex
	unsubs []func()

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func newScope() *scope {
	return &scope{stop: make(chan struct{})}
}

func (s *scope) add(unsubscribe func()) {
	s.mu.Lock()
	s.unsubs = append(s.unsubs, unsubscribe)
	s.mu.Unlock()
}

// run calls fn on every tick until the scope closes. The ticker is stopped on exit.
func (s *scope) run(t Ticker, fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer t.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-t.C():
				fn()
			}
		}
	}()
}

// close unsubscribes every listener, stops the ticker and waits for its goroutine.
// Must not be called from the ticker goroutine.
func (s *scope) close() {
	s.once.Do(func() {
		s.mu.Lock()
		unsubs := s.unsubs
		s.unsubs = nil
		s.mu.Unlock()

		for _, u := range unsubs {
			u()
		}
		close(s.stop)
		s.wg.Wait()
	})
}
