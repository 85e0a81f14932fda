package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
)

const (
	resultOK          = "ok"
	resultRemoteError = "remote_error"
	resultTimeout     = "timeout"
	resultCircuitOpen = "circuit_open"
	resultUnavailable = "unavailable"
)

// Metrics contains dispatch metrics.
type Metrics struct {
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec
}

// NewMetricsWithRegisterer creates dispatch metrics on registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "edgegw"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "requests_total",
				Help:      "Total number of dispatched commands by channel, command and result",
			},
			[]string{"channel", "command", "result"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "request_duration_seconds",
				Help:      "Dispatch duration in seconds, including the wait for the reply",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"channel", "command"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state per channel (0=closed, 1=half-open, 2=open)",
			},
			[]string{"channel"},
		),
		breakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "circuit_breaker_transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"channel", "from", "to"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.requestsTotal, m.requestDuration, m.breakerState, m.breakerTransitions,
	} {
		_ = registerer.Register(c)
	}

	return m
}

func (m *Metrics) recordDispatch(channel, command, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(channel, command, result).Inc()
	m.requestDuration.WithLabelValues(channel, command).Observe(d.Seconds())
}

func (m *Metrics) recordBreakerState(channel string, from, to gobreaker.State) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(channel).Set(float64(to))
	m.breakerTransitions.WithLabelValues(channel, from.String(), to.String()).Inc()
}
