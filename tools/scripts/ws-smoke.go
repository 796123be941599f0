// Package main provides a CI-friendly WebSocket smoke test for the lockgate daemon.
//
// Run it against a daemon with a fresh store and the in-memory session source. It validates:
//   - handshake + subprotocol selection
//   - hello/ack with the current screen for two UI regions
//   - session bind over HTTP moves every region to pin setup
//   - pin_create unlocks everywhere
//   - lock from one region reaches the other
//   - a wrong pin keeps the lock, the right pin lifts it
//   - sign_out returns every region to login
package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"

	v1 "lockgate/contracts/lockgate/v1"
)

const maxReadBytes = 64 << 10

type smokeClient struct {
	name     string
	conn     *websocket.Conn
	clientID string
	screen   string

	inbox   chan v1.Envelope
	errCh   chan error
	pending []v1.Envelope
}

// broadcastTypes may reach a region before its hello_ack.
var broadcastTypes = map[string]struct{}{
	v1.TypeScreen:   {},
	v1.TypeLocked:   {},
	v1.TypeUnlocked: {},
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8787/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		session = flag.String("session", "", "Session ID to bind (default: a fresh ULID, memory source only)")
		pin     = flag.String("pin", "4821", "PIN to create and submit")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	sessionID := strings.TrimSpace(*session)
	if sessionID == "" {
		sessionID = ulid.MustNew(ulid.Now(), rand.Reader).String()
	}

	root := context.Background()

	tab := mustConnect(root, "tab", *wsURL, *origin, *timeout)
	defer closeWS(tab.conn)

	header := mustConnect(root, "header", *wsURL, *origin, *timeout)
	defer closeWS(header.conn)

	if *verbose {
		fmt.Printf("connected: tab=%s header=%s screen=%s origin=%q\n", tab.clientID, header.clientID, tab.screen, *origin)
	}
	if tab.screen != v1.ScreenLoginRequired {
		fatalf("expected %s before bind, got %s (is the store fresh and the session unbound?)", v1.ScreenLoginRequired, tab.screen)
	}

	mustBindSession(root, httpBase(*wsURL), *origin, sessionID, *timeout)
	tab.mustReadScreen(root, v1.ScreenPinSetupRequired, *timeout)
	header.mustReadScreen(root, v1.ScreenPinSetupRequired, *timeout)

	if ok := tab.mustPinRequest(root, v1.TypePinCreate, *pin, *timeout); !ok {
		fatalf("pin_create rejected")
	}
	tab.mustReadScreen(root, v1.ScreenUnlocked, *timeout)
	header.mustReadScreen(root, v1.ScreenUnlocked, *timeout)

	header.mustSend(root, v1.TypeLock, nil, *timeout)
	tab.mustReadScreen(root, v1.ScreenPinLocked, *timeout)
	header.mustReadScreen(root, v1.ScreenPinLocked, *timeout)

	if ok := tab.mustPinRequest(root, v1.TypePinSubmit, wrongPin(*pin), *timeout); ok {
		fatalf("wrong pin accepted")
	}
	mustAssertNoType(root, header, v1.TypeUnlocked, 500*time.Millisecond)

	if ok := tab.mustPinRequest(root, v1.TypePinSubmit, *pin, *timeout); !ok {
		fatalf("right pin rejected")
	}
	tab.mustReadScreen(root, v1.ScreenUnlocked, *timeout)
	header.mustReadScreen(root, v1.ScreenUnlocked, *timeout)

	tab.mustSend(root, v1.TypeSignOut, nil, *timeout)
	tab.mustReadScreen(root, v1.ScreenLoginRequired, *timeout)
	header.mustReadScreen(root, v1.ScreenLoginRequired, *timeout)

	fmt.Printf("OK: tab=%s header=%s session=%s\n", tab.clientID, header.clientID, sessionID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, v1.Subprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 128),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	c.mustSend(parent, v1.TypeHello, v1.HelloPayload{Region: name}, stepTimeout)
	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout, broadcastTypes)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.ClientID) == "" {
		fatalf("hello_ack missing client_id (%s)", name)
	}
	c.clientID = p.ClientID
	c.screen = p.Screen

	return c
}

// mustBindSession adopts sessionID through the HTTP control surface.
func mustBindSession(parent context.Context, base, origin, sessionID string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	body, _ := json.Marshal(map[string]string{"session_id": sessionID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/session", bytes.NewReader(body))
	if err != nil {
		fatalf("bind request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if origin != "" {
		req.Header.Set("Origin", origin)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("bind session: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		fatalf("bind session: status %d", resp.StatusCode)
	}
}

func (c *smokeClient) mustSend(parent context.Context, typ string, payload any, stepTimeout time.Duration) string {
	id := fmt.Sprintf("%s-%s-%d", c.name, typ, time.Now().UnixNano())
	env := v1.Envelope{
		V:    v1.Version,
		Type: typ,
		ID:   id,
		TS:   time.Now().UTC(),
	}
	if payload != nil {
		env.Payload = mustJSON(payload)
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)
	return id
}

// mustPinRequest sends a pin_create or pin_submit and returns the matching pin_result.
// Broadcasts that arrive first are kept for later steps.
func (c *smokeClient) mustPinRequest(parent context.Context, typ, pin string, stepTimeout time.Duration) bool {
	id := c.mustSend(parent, typ, v1.PinPayload{Pin: pin}, stepTimeout)

	var held []v1.Envelope
	defer func() { c.pending = append(held, c.pending...) }()

	deadline := time.Now().Add(stepTimeout)
	for {
		env := c.mustNext(parent, time.Until(deadline), v1.TypePinResult)
		if env.Type != v1.TypePinResult {
			held = append(held, env)
			continue
		}
		var p v1.PinResultPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			fatalf("unmarshal pin_result (%s): %v", c.name, err)
		}
		if p.RequestID == id {
			return p.OK
		}
	}
}

// mustReadScreen waits for a screen envelope announcing want. Earlier screens are skipped.
func (c *smokeClient) mustReadScreen(parent context.Context, want string, stepTimeout time.Duration) {
	deadline := time.Now().Add(stepTimeout)
	for {
		env := c.mustNext(parent, time.Until(deadline), "screen "+want)
		switch env.Type {
		case v1.TypeScreen:
		case v1.TypeLocked, v1.TypeUnlocked, v1.TypePinResult:
			continue
		default:
			fatalf("unexpected envelope type (%s): got=%q want screen %s", c.name, env.Type, want)
		}
		var p v1.ScreenPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			fatalf("unmarshal screen (%s): %v", c.name, err)
		}
		c.screen = p.Screen
		if p.Screen == want {
			return
		}
	}
}

// mustNext returns the next held or received envelope. Error envelopes are fatal.
func (c *smokeClient) mustNext(parent context.Context, timeout time.Duration, waitingFor string) v1.Envelope {
	if len(c.pending) > 0 {
		env := c.pending[0]
		c.pending = c.pending[1:]
		return env
	}
	if timeout <= 0 {
		fatalf("timeout waiting for %s (%s), last screen=%s", waitingFor, c.name, c.screen)
	}

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	select {
	case <-ctx.Done():
		fatalf("timeout waiting for %s (%s), last screen=%s", waitingFor, c.name, c.screen)
	case err := <-c.errCh:
		fatalf("connection error while waiting for %s (%s): %v", waitingFor, c.name, err)
	case env, ok := <-c.inbox:
		if !ok {
			fatalf("connection closed while waiting for %s (%s)", waitingFor, c.name)
		}
		if env.Type == v1.TypeError {
			var ep v1.ErrorPayload
			_ = json.Unmarshal(env.Payload, &ep)
			fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
		}
		return env
	}
	panic("unreachable")
}

func httpBase(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil {
		fatalf("parse url: %v", err)
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = ""
	u.RawQuery = ""
	return strings.TrimSuffix(u.String(), "/")
}

func wrongPin(pin string) string {
	if strings.HasPrefix(pin, "0") {
		return strings.Repeat("9", len(pin))
	}
	return strings.Repeat("0", len(pin))
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if env.Type == forbiddenType {
				fatalf("unexpected %s received (%s)", forbiddenType, c.name)
			}
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
