package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	ticks         prometheus.Counter
	saveFailures  prometheus.Counter
	notifications *prometheus.CounterVec
	completions   prometheus.Counter
	activeEngines prometheus.Gauge
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ticks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "loan_accrual",
			Name:      "ticks_total",
			Help:      "Engine ticks processed across all loans.",
		}),
		saveFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "loan_accrual",
			Name:      "state_save_failures_total",
			Help:      "Accrual state writes that failed and were deferred to the next tick.",
		}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loan_accrual",
			Name:      "notifications_total",
			Help:      "Notifications forwarded to the sink, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		completions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "loan_accrual",
			Name:      "completions_total",
			Help:      "Loans that reached their repayment deadline.",
		}),
		activeEngines: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "loan_accrual",
			Name:      "active_engines",
			Help:      "Engines currently ticking.",
		}),
	}
}

// Nil receivers are no-ops so components can be built without metrics.

func (m *Metrics) tick() {
	if m != nil {
		m.ticks.Inc()
	}
}

func (m *Metrics) saveFailed() {
	if m != nil {
		m.saveFailures.Inc()
	}
}

func (m *Metrics) notified(kind, outcome string) {
	if m != nil {
		m.notifications.WithLabelValues(kind, outcome).Inc()
	}
}

func (m *Metrics) completed() {
	if m != nil {
		m.completions.Inc()
	}
}

func (m *Metrics) engineStarted() {
	if m != nil {
		m.activeEngines.Inc()
	}
}

func (m *Metrics) engineStopped() {
	if m != nil {
		m.activeEngines.Dec()
	}
}
