package gate

// Auto-lock causes reported to Observer.AutoLocked.
const (
	CauseIdle       = "idle"
	CauseVisibility = "visibility"
	CauseResume     = "resume"
)

// Observer receives gate telemetry. Implementations must not block or call back into the gate.
type Observer interface {
	ScreenChanged(from, to Screen)
	AutoLocked(cause string)
	PinVerified(ok bool)
	PinThrottled()
}

type nopObserver struct{}

func (nopObserver) ScreenChanged(Screen, Screen) {}
func (nopObserver) AutoLocked(string)            {}
func (nopObserver) PinVerified(bool)             {}
func (nopObserver) PinThrottled()                {}
