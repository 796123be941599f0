// Package metrics exposes lock gate telemetry as Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lockgate/cmd/internal/gate"
)

const namespace = "lockgate"

// Metrics implements gate.Observer and owns its own registry.
type Metrics struct {
	reg *prometheus.Registry

	transitions  *prometheus.CounterVec
	autoLocks    *prometheus.CounterVec
	pinVerify    *prometheus.CounterVec
	pinThrottled prometheus.Counter
	screen       *prometheus.GaugeVec
	regions      prometheus.Gauge
}

var _ gate.Observer = (*Metrics)(nil)

// New builds the collectors and registers them, plus the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "screen_transitions_total",
			Help:      "Screen changes, by source and destination screen.",
		}, []string{"from", "to"}),
		autoLocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auto_locks_total",
			Help:      "Automatic locks, by cause.",
		}, []string{"cause"}),
		pinVerify: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pin_verifications_total",
			Help:      "PIN verification attempts, by result.",
		}, []string{"result"}),
		pinThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pin_throttled_total",
			Help:      "PIN submissions refused by the attempt limiter.",
		}),
		screen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "screen",
			Help:      "1 for the screen currently shown, 0 otherwise.",
		}, []string{"screen"}),
		regions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_regions",
			Help:      "UI regions connected over the websocket gateway.",
		}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transitions,
		m.autoLocks,
		m.pinVerify,
		m.pinThrottled,
		m.screen,
		m.regions,
	)

	for _, s := range gate.AllScreens() {
		m.screen.WithLabelValues(s.String()).Set(0)
	}
	m.screen.WithLabelValues(gate.ScreenAuthLoading.String()).Set(1)

	return m
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// ConnectedRegions is the gauge the realtime hub reports its size on.
func (m *Metrics) ConnectedRegions() prometheus.Gauge { return m.regions }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) ScreenChanged(from, to gate.Screen) {
	m.transitions.WithLabelValues(from.String(), to.String()).Inc()
	m.screen.WithLabelValues(from.String()).Set(0)
	m.screen.WithLabelValues(to.String()).Set(1)
}

func (m *Metrics) AutoLocked(cause string) {
	m.autoLocks.WithLabelValues(cause).Inc()
}

func (m *Metrics) PinVerified(ok bool) {
	result := "fail"
	if ok {
		result = "ok"
	}
	m.pinVerify.WithLabelValues(result).Inc()
}

func (m *Metrics) PinThrottled() {
	m.pinThrottled.Inc()
}
