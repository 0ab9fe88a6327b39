// Package metrics exposes prometheus instrumentation for the connection
// controller. A nil *Recorder is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sscontrol"

// Recorder groups the controller metrics.
type Recorder struct {
	// transitions counts state machine transitions.
	// Labels: from, to
	transitions *prometheus.CounterVec

	// attempts counts connect attempts by outcome.
	// Labels: outcome (success, failure, rejected)
	attempts *prometheus.CounterVec

	// errors counts surfaced errors by code.
	// Labels: code
	errors *prometheus.CounterVec

	// connected is 1 while the tunnel is connected.
	connected prometheus.Gauge

	// sessionDuration observes the length of finished connected periods.
	// Buckets: 1m, 5m, 15m, 1h, 4h, 12h, 24h
	sessionDuration prometheus.Histogram
}

// New registers the controller metrics on reg.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Total number of connection state transitions",
			},
			[]string{"from", "to"},
		),
		attempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connect_attempts_total",
				Help:      "Total number of connect attempts grouped by outcome",
			},
			[]string{"outcome"},
		),
		errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of surfaced errors grouped by code",
			},
			[]string{"code"},
		),
		connected: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connected",
				Help:      "Whether the tunnel is currently connected",
			},
		),
		sessionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Duration of connected periods in seconds",
				Buckets:   []float64{60, 300, 900, 3600, 4 * 3600, 12 * 3600, 24 * 3600},
			},
		),
	}
}

// Transition records a state transition.
func (r *Recorder) Transition(from, to string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(from, to).Inc()
	if to == "connected" {
		r.connected.Set(1)
	} else if from == "connected" {
		r.connected.Set(0)
	}
}

// Attempt records the outcome of a connect call.
func (r *Recorder) Attempt(outcome string) {
	if r == nil {
		return
	}
	r.attempts.WithLabelValues(outcome).Inc()
}

// Error records a surfaced error code.
func (r *Recorder) Error(code string) {
	if r == nil {
		return
	}
	r.errors.WithLabelValues(code).Inc()
}

// SessionEnded records the length of a connected period.
func (r *Recorder) SessionEnded(d time.Duration) {
	if r == nil || d < 0 {
		return
	}
	r.sessionDuration.Observe(d.Seconds())
}
