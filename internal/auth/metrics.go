package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for authentication.
type Metrics struct {
	attemptsTotal   *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
}

// NewMetrics creates auth metrics on the default registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates auth metrics on a custom registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "edgegw"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "attempts_total",
				Help:      "Total number of authentication attempts",
			},
			[]string{"transport", "result", "reason"},
		),
		attemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "attempt_duration_seconds",
				Help:      "Authentication duration in seconds, including verification and role lookup",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"transport", "result"},
		),
	}

	for _, c := range []prometheus.Collector{m.attemptsTotal, m.attemptDuration} {
		_ = registerer.Register(c)
	}

	return m
}

func (m *Metrics) recordSuccess(transport string, d time.Duration) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(transport, "success", "").Inc()
	m.attemptDuration.WithLabelValues(transport, "success").Observe(d.Seconds())
}

func (m *Metrics) recordFailure(transport, reason string, d time.Duration) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(transport, "failure", reason).Inc()
	m.attemptDuration.WithLabelValues(transport, "failure").Observe(d.Seconds())
}
