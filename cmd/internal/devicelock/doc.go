// Package devicelock implements the device lock state machine.
//
// A Locker owns three persisted fields (PIN secret, lock flag, last-activity timestamp) in a
// lockstore.Store and exposes the Locked/Unlocked transitions. Every transition that changes the
// effective lock state publishes exactly one Event on a Broadcaster, after the store write.
//
// Storage failures never surface as panics or hard errors from read paths: an unreadable store is
// treated as "no PIN configured", which leaves the device unlocked behind the remote session gate.
package devicelock
