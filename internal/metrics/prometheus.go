// Package metrics provides Prometheus metrics for the reconciliation loop.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics holds every collector the bot exports.
type PrometheusMetrics struct {
	TickCounter      *prometheus.CounterVec
	TickDuration     *prometheus.HistogramVec
	CooldownsExpired *prometheus.CounterVec
	RoleMutations    *prometheus.CounterVec
	WarningsExpired  prometheus.Counter
	DriftRepairs     *prometheus.CounterVec
	LastTick         prometheus.Gauge
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		TickCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phxbot",
			Subsystem: "reconcile",
			Name:      "ticks_total",
			Help:      "Reconciliation ticks by result.",
		}, []string{"result"}),
		TickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "phxbot",
			Subsystem: "reconcile",
			Name:      "tick_duration_seconds",
			Help:      "Time spent in each reconciliation phase.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"phase"}),
		CooldownsExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phxbot",
			Name:      "cooldowns_expired_total",
			Help:      "Cooldown records removed after expiry.",
		}, []string{"kind"}),
		RoleMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phxbot",
			Name:      "role_mutations_total",
			Help:      "Status role additions and removals by outcome.",
		}, []string{"op", "result"}),
		WarningsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "phxbot",
			Name:      "warnings_expired_total",
			Help:      "Warnings marked EXPIRED.",
		}),
		DriftRepairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phxbot",
			Name:      "drift_repairs_total",
			Help:      "Drift corrections by cooldown kind and action.",
		}, []string{"kind", "action"}),
		LastTick: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "phxbot",
			Subsystem: "reconcile",
			Name:      "last_tick_timestamp_seconds",
			Help:      "Unix time of the last completed tick.",
		}),
	}

	collectors := []prometheus.Collector{
		m.TickCounter, m.TickDuration, m.CooldownsExpired,
		m.RoleMutations, m.WarningsExpired, m.DriftRepairs, m.LastTick,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// RecordTick counts a finished tick and records when it ended.
func (m *PrometheusMetrics) RecordTick(result string, unixSeconds float64) {
	m.TickCounter.WithLabelValues(result).Inc()
	m.LastTick.Set(unixSeconds)
}

// ObservePhase records how long a phase took.
func (m *PrometheusMetrics) ObservePhase(phase string, seconds float64) {
	m.TickDuration.WithLabelValues(phase).Observe(seconds)
}

// RecordCooldownExpired counts a removed cooldown record.
func (m *PrometheusMetrics) RecordCooldownExpired(kind string) {
	m.CooldownsExpired.WithLabelValues(kind).Inc()
}

// RecordRoleMutation counts a role add or remove attempt.
func (m *PrometheusMetrics) RecordRoleMutation(op, result string) {
	m.RoleMutations.WithLabelValues(op, result).Inc()
}

// RecordWarningExpired counts a warning marked EXPIRED.
func (m *PrometheusMetrics) RecordWarningExpired() {
	m.WarningsExpired.Inc()
}

// RecordDriftRepair counts a drift correction.
func (m *PrometheusMetrics) RecordDriftRepair(kind, action string) {
	m.DriftRepairs.WithLabelValues(kind, action).Inc()
}
