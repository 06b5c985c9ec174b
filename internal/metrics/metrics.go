// Package metrics exposes Prometheus counters for monitor activity.
//
// All methods are safe to call on a nil *Metrics, so components can run
// without instrumentation in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/brianly1003/filesensor/internal/domain"
)

const namespace = "filesensor"

// Metrics holds the collectors shared by monitors and the registry.
type Metrics struct {
	StateChanges *prometheus.CounterVec
	ReadFailures *prometheus.CounterVec
	Retries      *prometheus.CounterVec
	Abandoned    *prometheus.CounterVec
	Monitors     prometheus.Gauge
	Rejected     prometheus.Counter
}

// New creates unregistered collectors.
func New() *Metrics {
	return &Metrics{
		StateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_changes_total",
			Help:      "Sensor state transitions reported downstream.",
		}, []string{"key", "state"}),
		ReadFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_failures_total",
			Help:      "Failed read or classify attempts.",
		}, []string{"key"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_scheduled_total",
			Help:      "Deferred retries scheduled after a failed attempt.",
		}, []string{"key"}),
		Abandoned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_abandoned_total",
			Help:      "Change events dropped after the retry ceiling.",
		}, []string{"key"}),
		Monitors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitors",
			Help:      "Monitors constructed by the last rebuild.",
		}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "specs_rejected_total",
			Help:      "Monitor specs skipped during rebuild.",
		}),
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.StateChanges, m.ReadFailures, m.Retries, m.Abandoned, m.Monitors, m.Rejected,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveStateChange(key string, state domain.State) {
	if m == nil {
		return
	}
	m.StateChanges.WithLabelValues(key, state.String()).Inc()
}

func (m *Metrics) ObserveFailure(key string) {
	if m == nil {
		return
	}
	m.ReadFailures.WithLabelValues(key).Inc()
}

func (m *Metrics) ObserveRetry(key string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(key).Inc()
}

func (m *Metrics) ObserveAbandon(key string) {
	if m == nil {
		return
	}
	m.Abandoned.WithLabelValues(key).Inc()
}

func (m *Metrics) SetMonitors(n int) {
	if m == nil {
		return
	}
	m.Monitors.Set(float64(n))
}

func (m *Metrics) ObserveRejected(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Rejected.Add(float64(n))
}
