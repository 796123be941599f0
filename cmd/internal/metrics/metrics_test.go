package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lockgate/cmd/internal/gate"
)

func TestMetrics_ScreenChanged(t *testing.T) {
	t.Parallel()
	m := New()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.screen.WithLabelValues("auth_loading")))

	m.ScreenChanged(gate.ScreenAuthLoading, gate.ScreenPinSetupRequired)
	m.ScreenChanged(gate.ScreenPinSetupRequired, gate.ScreenUnlocked)
	m.ScreenChanged(gate.ScreenUnlocked, gate.ScreenPinLocked)
	m.ScreenChanged(gate.ScreenPinLocked, gate.ScreenUnlocked)
	m.ScreenChanged(gate.ScreenUnlocked, gate.ScreenPinLocked)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("unlocked", "pin_locked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("pin_locked", "unlocked")))

	for _, s := range gate.AllScreens() {
		want := 0.0
		if s == gate.ScreenPinLocked {
			want = 1
		}
		assert.Equal(t, want, testutil.ToFloat64(m.screen.WithLabelValues(s.String())), s.String())
	}
}

func TestMetrics_PinAndAutoLock(t *testing.T) {
	t.Parallel()
	m := New()

	m.PinVerified(false)
	m.PinVerified(false)
	m.PinVerified(true)
	m.PinThrottled()
	m.AutoLocked(gate.CauseIdle)
	m.AutoLocked(gate.CauseVisibility)
	m.AutoLocked(gate.CauseVisibility)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.pinVerify.WithLabelValues("fail")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pinVerify.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pinThrottled))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.autoLocks.WithLabelValues("idle")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.autoLocks.WithLabelValues("visibility")))
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()
	m := New()
	m.ConnectedRegions().Set(3)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "lockgate_connected_regions 3")
	assert.Contains(t, string(body), `lockgate_screen{screen="auth_loading"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
