package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"lockgate/cmd/internal/gate"
	"lockgate/cmd/internal/lockstore"
	"lockgate/cmd/internal/ratelimit"
	"lockgate/cmd/security/pin"
	v1 "lockgate/contracts/lockgate/v1"
)

const (
	wsDefaultSendQueueSize = 64
	wsMinSendQueueSize     = 16

	wsDefaultWriteTimeout  = 5 * time.Second
	wsDefaultReadIdle      = 2 * time.Minute
	wsDefaultActionTimeout = 10 * time.Second
	wsCloseGrace           = 1 * time.Second

	wsMaxPingFailures = 3

	// Origin is required by default and only localhost is allowed by default.
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// WSGateway is the WebSocket entrypoint for UI regions.
//
// It enforces origin policy, subprotocol selection, rate limits and heartbeats, routes
// validated envelopes to the Gate, and keeps each region subscribed to the Hub.
type WSGateway struct {
	log  *slog.Logger
	hub  *Hub
	gate *gate.Gate

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks (cross-origin requires OriginPatterns).
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	actionTimeout   time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewWSGateway constructs a gateway with secure defaults read from LOCKGATE_WS_* variables.
func NewWSGateway(log *slog.Logger, hub *Hub, g *gate.Gate) *WSGateway {
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewHub(log, nil)
	}

	gw := &WSGateway{log: log, hub: hub, gate: g}

	// TLS verification knob for dev. Not an origin policy.
	gw.devInsecure = envBoolWS("LOCKGATE_WS_DEV_INSECURE", false)

	gw.originRequired = envBoolWS("LOCKGATE_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	gw.allowedOrigins = envCSVWS("LOCKGATE_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)
	gw.originPatterns = deriveOriginPatternsFromAllowedOrigins(gw.allowedOrigins)

	gw.writeTimeout = envDurationWS("LOCKGATE_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	gw.readIdleTimeout = envDurationWS("LOCKGATE_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)
	gw.actionTimeout = envDurationWS("LOCKGATE_WS_ACTION_TIMEOUT", wsDefaultActionTimeout)

	gw.sendQueueSize = envIntWS("LOCKGATE_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if gw.sendQueueSize < wsMinSendQueueSize {
		gw.sendQueueSize = wsMinSendQueueSize
	}

	gw.heartbeatEvery = envDurationWS("LOCKGATE_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	gw.heartbeatTimeout = envDurationWS("LOCKGATE_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	gw.rateEvents = envIntWS("LOCKGATE_WS_RATE_EVENTS", rateLimitEvents)
	gw.rateWindow = envDurationWS("LOCKGATE_WS_RATE_WINDOW", rateLimitWindow)

	return gw
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket connection and runs the region loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	clientID, err := NewClientID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.client_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	client := NewClient(clientID, g.sendQueueSize)
	g.hub.Join(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Leave(client.ID)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := ratelimit.New(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "client_id", client.ID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "client_id", client.ID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, v1.CodeBadRequest, "invalid JSON", "")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "client_id", client.ID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if !rl.Allow(time.Now().UTC()) {
			// Written inline: the writer goroutine stops as soon as shutdown runs.
			p, _ := json.Marshal(v1.ErrorPayload{Code: v1.CodeRateLimited, Message: "too many events", RequestID: env.ID})
			_ = writeEnvelope(ctx, conn, newEnvelope(v1.TypeError, p, time.Now().UTC()), g.writeTimeout)
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, v1.CodeBadRequest, err.Error(), env.ID)
			continue readLoop
		}

		if err := g.route(ctx, client, env); err != nil {
			g.sendActionError(ctx, client, env.ID, err)
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// route dispatches one validated client envelope.
func (g *WSGateway) route(ctx context.Context, client *Client, env v1.Envelope) error {
	switch env.Type {
	case v1.TypeHello:
		return g.onHello(ctx, client, env)

	case v1.TypeActivity:
		g.gate.Signals().EmitInput()
		return nil

	case v1.TypeVisibility:
		var p v1.VisibilityPayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		g.gate.Signals().EmitVisibility(p.Visible)
		return nil

	case v1.TypePinSubmit:
		var p v1.PinPayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		ok, err := g.gate.SubmitPin(p.Pin)
		if err != nil {
			return err
		}
		return g.sendPinResult(ctx, client, env.ID, ok)

	case v1.TypePinCreate:
		var p v1.PinPayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		if err := g.gate.CreatePin(p.Pin); err != nil {
			return err
		}
		return g.sendPinResult(ctx, client, env.ID, true)

	case v1.TypePinForget:
		actx, cancel := context.WithTimeout(ctx, g.actionTimeout)
		defer cancel()
		return g.gate.ForgetPin(actx)

	case v1.TypeLock:
		return g.gate.Lock()

	case v1.TypeSignOut:
		actx, cancel := context.WithTimeout(ctx, g.actionTimeout)
		defer cancel()
		return g.gate.SignOut(actx)

	default:
		return errUnsupported{typ: env.Type}
	}
}

// ---- handlers ----

func (g *WSGateway) onHello(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.HelloPayload
	if len(env.Payload) > 0 {
		if err := decodePayload(env, &p); err != nil {
			return err
		}
	}
	region := strings.TrimSpace(p.Region)
	if len(region) > maxRegionLabel {
		region = region[:maxRegionLabel]
	}
	client.SetRegion(region)

	ackPayload, _ := json.Marshal(v1.HelloAckPayload{
		ClientID: client.ID,
		Screen:   g.gate.Screen().String(),
	})
	if !g.enqueue(ctx, client, newEnvelope(v1.TypeHelloAck, ackPayload, time.Now().UTC())) {
		return errors.New("backpressure: hello_ack")
	}
	g.log.Debug("region.hello", "client_id", client.ID, "region", region)
	return nil
}

func (g *WSGateway) sendPinResult(ctx context.Context, client *Client, requestID string, ok bool) error {
	p, _ := json.Marshal(v1.PinResultPayload{RequestID: requestID, OK: ok})
	if !g.enqueue(ctx, client, newEnvelope(v1.TypePinResult, p, time.Now().UTC())) {
		return errors.New("backpressure: pin_result")
	}
	return nil
}

// ---- errors ----

type errUnsupported struct{ typ string }

func (e errUnsupported) Error() string { return fmt.Sprintf("unsupported type: %s", e.typ) }

type errBadPayload struct{ err error }

func (e errBadPayload) Error() string { return fmt.Sprintf("invalid payload: %v", e.err) }
func (e errBadPayload) Unwrap() error { return e.err }

func decodePayload(env v1.Envelope, dst any) error {
	if len(env.Payload) == 0 {
		return errBadPayload{err: errors.New("missing payload")}
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return errBadPayload{err: err}
	}
	return nil
}

// errorCode maps an action error to its wire code. Internal details are not echoed.
func errorCode(err error) (code, msg string, retryAfter time.Duration) {
	var attempts gate.AttemptsError
	var unsupported errUnsupported
	var bad errBadPayload

	switch {
	case errors.As(err, &attempts):
		return v1.CodeTooManyAttempts, "too many failed attempts", attempts.RetryAfter
	case errors.Is(err, gate.ErrNoSession), errors.Is(err, gate.ErrClosed):
		return v1.CodeNoSession, "no active session", 0
	case errors.Is(err, gate.ErrNoPin):
		return v1.CodeNoPin, "no pin configured", 0
	case errors.Is(err, gate.ErrPinExists):
		return v1.CodePinExists, "pin already configured", 0
	case errors.Is(err, pin.ErrInvalidFormat):
		return v1.CodeInvalidPin, pin.ErrInvalidFormat.Error(), 0
	case errors.Is(err, lockstore.ErrUnavailable):
		return v1.CodeUnavailable, "device storage unavailable", 0
	case errors.As(err, &unsupported), errors.As(err, &bad):
		return v1.CodeBadRequest, err.Error(), 0
	default:
		return v1.CodeInternal, "internal error", 0
	}
}

func (g *WSGateway) sendActionError(ctx context.Context, client *Client, requestID string, err error) {
	code, msg, retry := errorCode(err)
	if code == v1.CodeInternal {
		g.log.Warn("ws.action.fail", "client_id", client.ID, "err", err)
	}
	p, _ := json.Marshal(v1.ErrorPayload{
		Code:         code,
		Message:      msg,
		RequestID:    requestID,
		RetryAfterMS: retry.Milliseconds(),
	})
	_ = g.enqueue(ctx, client, newEnvelope(v1.TypeError, p, time.Now().UTC()))
}

// ---- send helpers ----

func (g *WSGateway) trySendError(ctx context.Context, client *Client, code, msg, requestID string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg, RequestID: requestID})
	_ = g.enqueue(ctx, client, newEnvelope(v1.TypeError, p, time.Now().UTC()))
}

func (g *WSGateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	id, _ := NewEnvelopeID(ts)
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      ts,
		Payload: payload,
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return readErrBadJSON
	}
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}
		if origin == a {
			return nil
		}
		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatternsFromAllowedOrigins extracts the hosts websocket.Accept matches
// OriginPatterns against. Sorted for stable logs.
func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
