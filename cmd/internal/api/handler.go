package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"lockgate/cmd/internal/gate"
	v1 "lockgate/contracts/lockgate/v1"
)

// Binder attaches the gate to a remote session id issued by the identity service.
type Binder func(ctx context.Context, sessionID string) error

// Handler wires HTTP routes to a Gate.
type Handler struct {
	log  *slog.Logger
	cfg  Config
	gate *gate.Gate
	bind Binder

	actionTimeout time.Duration
}

// NewHandler constructs a Handler. bind may be nil, in which case POST /v1/session returns 503.
func NewHandler(log *slog.Logger, g *gate.Gate, bind Binder, cfg Config) (*Handler, error) {
	if g == nil {
		return nil, errors.New("api: nil gate")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4 << 10
	}
	return &Handler{
		log:           log,
		cfg:           cfg,
		gate:          g,
		bind:          bind,
		actionTimeout: 5 * time.Second,
	}, nil
}

// Register wires routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/v1/state", h.handleState)
	mux.HandleFunc("/v1/session", h.handleSession)
	mux.HandleFunc("/v1/pin", h.handlePin)
	mux.HandleFunc("/v1/pin/verify", h.handlePinVerify)
	mux.HandleFunc("/v1/lock", h.handleLock)
	mux.HandleFunc("/v1/activity", h.handleActivity)
	mux.HandleFunc("/v1/visibility", h.handleVisibility)
}

// ---- handlers ----

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, toStateResponse(h.gate.Status()))
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if h.bind == nil {
			writeError(w, http.StatusServiceUnavailable, v1.CodeUnavailable, "session binding not configured")
			return
		}
		var req sessionRequest
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, v1.CodeBadRequest, "invalid json")
			return
		}
		id := strings.TrimSpace(req.SessionID)
		if id == "" {
			writeError(w, http.StatusBadRequest, v1.CodeBadRequest, "session_id is required")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), h.actionTimeout)
		defer cancel()
		if err := h.bind(ctx, id); err != nil {
			h.writeActionError(w, "session.bind", err)
			return
		}
		h.log.Info("api.session.bound")
		writeJSON(w, http.StatusOK, toStateResponse(h.gate.Status()))

	case http.MethodDelete:
		ctx, cancel := context.WithTimeout(r.Context(), h.actionTimeout)
		defer cancel()
		if err := h.gate.SignOut(ctx); err != nil {
			h.writeActionError(w, "session.signout", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handlePin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req pinRequest
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, v1.CodeBadRequest, "invalid json")
			return
		}
		if err := h.gate.CreatePin(req.Pin); err != nil {
			h.writeActionError(w, "pin.create", err)
			return
		}
		writeJSON(w, http.StatusCreated, pinResultResponse{OK: true, Screen: h.gate.Screen().String()})

	case http.MethodDelete:
		ctx, cancel := context.WithTimeout(r.Context(), h.actionTimeout)
		defer cancel()
		if err := h.gate.ForgetPin(ctx); err != nil {
			h.writeActionError(w, "pin.forget", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handlePinVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req pinRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, v1.CodeBadRequest, "invalid json")
		return
	}
	ok, err := h.gate.SubmitPin(req.Pin)
	if err != nil {
		h.writeActionError(w, "pin.verify", err)
		return
	}
	writeJSON(w, http.StatusOK, pinResultResponse{OK: ok, Screen: h.gate.Screen().String()})
}

func (h *Handler) handleLock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := h.gate.Lock(); err != nil {
		h.writeActionError(w, "lock", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	h.gate.Signals().EmitInput()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleVisibility(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req visibilityRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, v1.CodeBadRequest, "invalid json")
		return
	}
	h.gate.Signals().EmitVisibility(req.Visible)
	w.WriteHeader(http.StatusNoContent)
}

func toStateResponse(st gate.Status) stateResponse {
	resp := stateResponse{
		Screen:         st.Screen.String(),
		SessionPresent: st.Present,
		Lock: lockResponse{
			Available: st.Lock.Available,
			HasPin:    st.Lock.HasPin,
			Locked:    st.Lock.Locked,
		},
	}
	if !st.Lock.LastActivity.IsZero() {
		ts := st.Lock.LastActivity.UTC()
		resp.Lock.LastActivity = &ts
	}
	return resp
}
