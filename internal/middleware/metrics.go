package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for middleware rejections.
type Metrics struct {
	panicsRecovered   prometheus.Counter
	bodyLimitRejected prometheus.Counter
}

// NewMetricsWithRegisterer creates middleware metrics on registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "edgegw"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		panicsRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "middleware",
			Name:      "panics_recovered_total",
			Help:      "Total number of recovered handler panics",
		}),
		bodyLimitRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "middleware",
			Name:      "body_limit_rejected_total",
			Help:      "Total number of requests rejected for body size",
		}),
	}

	_ = registerer.Register(m.panicsRecovered)
	_ = registerer.Register(m.bodyLimitRejected)

	return m
}

func (m *Metrics) recordPanic() {
	if m == nil {
		return
	}
	m.panicsRecovered.Inc()
}

func (m *Metrics) recordBodyLimit() {
	if m == nil {
		return
	}
	m.bodyLimitRejected.Inc()
}
