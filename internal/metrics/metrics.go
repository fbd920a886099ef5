// Package metrics exposes Prometheus collectors for the daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "apd_alarms"

	// ResultSuccess labels a call that completed.
	ResultSuccess = "success"
	// ResultError labels a call that failed.
	ResultError = "error"
)

// Metrics bundles the daemon collectors.
type Metrics struct {
	// Transitions counts combined alarm edges by direction.
	Transitions *prometheus.CounterVec
	// Combined mirrors the combined alarm flag (0 or 1).
	Combined prometheus.Gauge
	// OverlayCalls counts control-plane overlay calls by operation and result.
	OverlayCalls *prometheus.CounterVec
	// SubscriptionOps counts platform subscribe/unsubscribe calls by result.
	SubscriptionOps *prometheus.CounterVec
	// InboundEvents counts events received by the dispatcher by kind.
	InboundEvents *prometheus.CounterVec
	// Published counts output events sent to the platform by result.
	Published *prometheus.CounterVec
	// WiperRuns counts wiper triggers by result.
	WiperRuns *prometheus.CounterVec
}

// New constructs the collectors and registers them with reg.
// A nil reg leaves them unregistered, which tests use.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Combined alarm transitions by direction",
			},
			[]string{"direction"},
		),
		Combined: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "combined_active",
			Help:      "Combined alarm flag, 1 when both scenarios are active",
		}),
		OverlayCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "overlay_calls_total",
				Help:      "Overlay control-plane calls by operation and result",
			},
			[]string{"op", "result"},
		),
		SubscriptionOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "subscription_ops_total",
				Help:      "Platform subscription operations by operation and result",
			},
			[]string{"op", "result"},
		),
		InboundEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inbound_events_total",
				Help:      "Events handled by the dispatcher by kind",
			},
			[]string{"kind"},
		),
		Published: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "published_events_total",
				Help:      "Combined alarm events sent to the platform by result",
			},
			[]string{"result"},
		),
		WiperRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wiper_runs_total",
				Help:      "Wiper triggers by result",
			},
			[]string{"result"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.Transitions,
			m.Combined,
			m.OverlayCalls,
			m.SubscriptionOps,
			m.InboundEvents,
			m.Published,
			m.WiperRuns,
		)
	}

	return m
}

// Result maps an error to the result label.
func Result(err error) string {
	if err != nil {
		return ResultError
	}

	return ResultSuccess
}

// SetCombined updates the combined gauge.
func (m *Metrics) SetCombined(active bool) {
	if active {
		m.Combined.Set(1)
		return
	}

	m.Combined.Set(0)
}
