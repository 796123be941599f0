package gate

import "time"

// DefaultPollInterval is the idle-check tick interval.
const DefaultPollInterval = 15 * time.Second

// Ticker is the recurring idle-check timer. *time.Ticker satisfies it through stdTicker.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type stdTicker struct{ t *time.Ticker }

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

// NewStdTicker returns a Ticker backed by time.NewTicker.
func NewStdTicker(d time.Duration) Ticker {
	return stdTicker{t: time.NewTicker(d)}
}
