package gate

// Screen is the gate state shown to every UI region.
type Screen uint8

const (
	ScreenAuthLoading Screen = iota
	ScreenLoginRequired
	ScreenPinSetupRequired
	ScreenPinLocked
	ScreenUnlocked
)

func (s Screen) String() string {
	switch s {
	case ScreenAuthLoading:
		return "auth_loading"
	case ScreenLoginRequired:
		return "login_required"
	case ScreenPinSetupRequired:
		return "pin_setup_required"
	case ScreenPinLocked:
		return "pin_locked"
	case ScreenUnlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

// AllScreens lists every screen in evaluation order.
func AllScreens() []Screen {
	return []Screen{
		ScreenAuthLoading,
		ScreenLoginRequired,
		ScreenPinSetupRequired,
		ScreenPinLocked,
		ScreenUnlocked,
	}
}
