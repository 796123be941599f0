// Package v1 defines the lockgate UI-region protocol v1 contract.
//
// This package is stable and dependency-light. It is shared between the daemon and
// UI regions (tabs, header lock button, smoke tools) to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the websocket subprotocol name.
const Subprotocol = "lockgate.v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a UI region handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the handshake and carries the current screen (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeActivity reports user input in a UI region (client -> server).
	TypeActivity = "activity"
	// TypeVisibility reports a UI region becoming visible or hidden (client -> server).
	TypeVisibility = "visibility"

	// TypePinSubmit submits a PIN on the lock screen (client -> server).
	TypePinSubmit = "pin_submit"
	// TypePinCreate sets the first PIN on the setup screen (client -> server).
	TypePinCreate = "pin_create"
	// TypePinForget clears the PIN and signs out (client -> server).
	TypePinForget = "pin_forget"
	// TypeLock locks the device immediately (client -> server).
	TypeLock = "lock"
	// TypeSignOut ends the remote session (client -> server).
	TypeSignOut = "sign_out"

	// TypeScreen announces the current gate screen (server -> all regions).
	TypeScreen = "screen"
	// TypeLocked is the locked broadcast; payload is empty, regions re-read state (server -> all regions).
	TypeLocked = "locked"
	// TypeUnlocked is the unlocked broadcast; payload is empty (server -> all regions).
	TypeUnlocked = "unlocked"
	// TypePinResult answers pin_submit / pin_create (server -> client).
	TypePinResult = "pin_result"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Screen names (wire-stable).
const (
	ScreenAuthLoading      = "auth_loading"
	ScreenLoginRequired    = "login_required"
	ScreenPinSetupRequired = "pin_setup_required"
	ScreenPinLocked        = "pin_locked"
	ScreenUnlocked         = "unlocked"
)

// Error codes (wire-stable).
const (
	CodeBadRequest      = "bad_request"
	CodeRateLimited     = "rate_limited"
	CodeNoSession       = "no_session"
	CodeNoPin           = "no_pin"
	CodePinExists       = "pin_exists"
	CodeInvalidPin      = "invalid_pin"
	CodeTooManyAttempts = "too_many_attempts"
	CodeUnavailable     = "unavailable"
	CodeInternal        = "internal"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeActivity,
		TypeVisibility,
		TypePinSubmit,
		TypePinCreate,
		TypePinForget,
		TypeLock,
		TypeSignOut,
		TypeScreen,
		TypeLocked,
		TypeUnlocked,
		TypePinResult,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloPayload is sent by a UI region to register itself.
type HelloPayload struct {
	// Region is a free-form label ("tab", "header") used in logs only.
	Region string `json:"region,omitempty"`
}

// HelloAckPayload carries the server-assigned client ID and the current screen.
type HelloAckPayload struct {
	ClientID string `json:"client_id"`
	Screen   string `json:"screen"`
}

// VisibilityPayload reports whether the region is visible.
type VisibilityPayload struct {
	Visible bool `json:"visible"`
}

// PinPayload carries a PIN for pin_submit / pin_create.
type PinPayload struct {
	Pin string `json:"pin"`
}

// PinResultPayload answers a PIN request. RequestID echoes the request envelope ID.
type PinResultPayload struct {
	RequestID string `json:"request_id"`
	OK        bool   `json:"ok"`
}

// ScreenPayload announces the gate screen.
type ScreenPayload struct {
	Screen string `json:"screen"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	RequestID    string `json:"request_id,omitempty"`
	RetryAfterMS int64  `json:"retry_after_ms,omitempty"`
}
