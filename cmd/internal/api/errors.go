package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"lockgate/cmd/internal/auth/session"
	"lockgate/cmd/internal/gate"
	"lockgate/cmd/internal/lockstore"
	"lockgate/cmd/security/pin"
	v1 "lockgate/contracts/lockgate/v1"
)

// writeActionError maps a gate action error to a status and a wire code.
// Unknown errors are logged and reported as internal.
func (h *Handler) writeActionError(w http.ResponseWriter, op string, err error) {
	var attempts gate.AttemptsError

	switch {
	case errors.As(err, &attempts):
		writeRateLimited(w, attempts.RetryAfter)
	case errors.Is(err, gate.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, v1.CodeUnavailable, "gate closed")
	case errors.Is(err, gate.ErrNoSession):
		writeError(w, http.StatusUnauthorized, v1.CodeNoSession, "no active session")
	case errors.Is(err, gate.ErrNoPin):
		writeError(w, http.StatusConflict, v1.CodeNoPin, "no pin configured")
	case errors.Is(err, gate.ErrPinExists):
		writeError(w, http.StatusConflict, v1.CodePinExists, "pin already configured")
	case errors.Is(err, pin.ErrInvalidFormat):
		writeError(w, http.StatusBadRequest, v1.CodeInvalidPin, pin.ErrInvalidFormat.Error())
	case errors.Is(err, session.ErrInvalidSessionID):
		writeError(w, http.StatusBadRequest, v1.CodeBadRequest, "invalid session id")
	case errors.Is(err, lockstore.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, v1.CodeUnavailable, "device storage unavailable")
	default:
		h.log.Error("api."+op+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, v1.CodeInternal, "internal error")
	}
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, v1.CodeTooManyAttempts, "too many failed attempts")
}
