package health

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for readiness checks.
type Metrics struct {
	checksTotal   *prometheus.CounterVec
	checkStatus   *prometheus.GaugeVec
	checkDuration *prometheus.HistogramVec
}

// NewMetricsWithRegisterer creates health metrics on registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "edgegw"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		checksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "checks_total",
				Help:      "Total number of readiness checks performed",
			},
			[]string{"check", "status"},
		),
		checkStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "check_status",
				Help:      "Last readiness check status (1=healthy, 0=unhealthy)",
			},
			[]string{"check"},
		),
		checkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "check_duration_seconds",
				Help:      "Readiness check duration in seconds",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2},
			},
			[]string{"check"},
		),
	}

	_ = registerer.Register(m.checksTotal)
	_ = registerer.Register(m.checkStatus)
	_ = registerer.Register(m.checkDuration)

	return m
}

func (m *Metrics) record(check string, healthy bool, d time.Duration) {
	if m == nil {
		return
	}
	status, value := string(StatusUnhealthy), 0.0
	if healthy {
		status, value = string(StatusHealthy), 1.0
	}
	m.checksTotal.WithLabelValues(check, status).Inc()
	m.checkStatus.WithLabelValues(check).Set(value)
	m.checkDuration.WithLabelValues(check).Observe(d.Seconds())
}
