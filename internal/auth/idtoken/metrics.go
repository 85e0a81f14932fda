package idtoken

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultValid   = "valid"
	resultInvalid = "invalid"
	resultMissing = "missing"
)

// Metrics holds Prometheus metrics for token verification.
type Metrics struct {
	verificationsTotal  *prometheus.CounterVec
	verificationLatency prometheus.Histogram
}

// NewMetricsWithRegisterer creates verification metrics on registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "edgegw"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		verificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "idtoken",
				Name:      "verifications_total",
				Help:      "Total number of ID token verifications by result",
			},
			[]string{"result"},
		),
		verificationLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "idtoken",
				Name:      "verification_duration_seconds",
				Help:      "ID token verification duration in seconds, including key set lookup",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
		),
	}

	_ = registerer.Register(m.verificationsTotal)
	_ = registerer.Register(m.verificationLatency)

	return m
}

func (m *Metrics) record(result string) {
	if m == nil {
		return
	}
	m.verificationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) observe(d time.Duration) {
	if m == nil {
		return
	}
	m.verificationLatency.Observe(d.Seconds())
}
