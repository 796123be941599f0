// Package gate is the session-gate orchestrator.
//
// It combines remote session presence (session.Source) with the device lock state
// (devicelock.Locker) into the single Screen every UI region renders, and owns the
// per-session scope of listeners and the idle-check ticker.
//
// Screens are evaluated top to bottom:
//
//	AuthLoading       remote presence not resolved yet
//	LoginRequired     no remote session
//	PinSetupRequired  session, no PIN
//	PinLocked         session, PIN, locked
//	Unlocked          session, PIN, not locked
//
// Every presence=true transition rebuilds the scope from a fresh store read; presence=false
// tears the scope down before anything else happens.
package gate
