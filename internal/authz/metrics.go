package authz

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains authorization metrics.
type Metrics struct {
	decisionTotal      *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
}

// NewMetricsWithRegisterer creates authorization metrics on registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "edgegw"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		decisionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "authz",
				Name:      "decisions_total",
				Help:      "Total number of authorization decisions",
			},
			[]string{"route", "decision"},
		),
		evaluationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "authz",
				Name:      "evaluation_duration_seconds",
				Help:      "Authorization evaluation duration in seconds",
				Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
			},
		),
	}

	_ = registerer.Register(m.decisionTotal)
	_ = registerer.Register(m.evaluationDuration)

	return m
}

// RecordDecision records an authorization decision.
func (m *Metrics) RecordDecision(route string, allowed bool, duration time.Duration) {
	if m == nil {
		return
	}
	decision := decisionDenied
	if allowed {
		decision = decisionAllowed
	}
	m.decisionTotal.WithLabelValues(route, decision).Inc()
	m.evaluationDuration.Observe(duration.Seconds())
}
