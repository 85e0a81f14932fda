package broker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultOK          = "ok"
	resultRemoteError = "remote_error"
	resultTimeout     = "timeout"
	resultCanceled    = "canceled"
	resultUnavailable = "unavailable"

	dropLate      = "late"
	dropMalformed = "malformed"
)

// Metrics contains broker client metrics.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	pending         prometheus.Gauge
	connected       prometheus.Gauge
	droppedReplies  *prometheus.CounterVec
}

// NewMetricsWithRegisterer creates broker metrics on registerer.
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
				Subsystem: "broker",
				Name:      "requests_total",
				Help:      "Total number of broker requests by channel and result",
			},
			[]string{"channel", "result"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "broker",
				Name:      "request_duration_seconds",
				Help:      "Broker round trip duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"channel"},
		),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "pending_requests",
			Help:      "Number of requests awaiting a reply",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "connected",
			Help:      "Whether the reply listener is connected (1) or not (0)",
		}),
		droppedReplies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "broker",
				Name:      "dropped_replies_total",
				Help:      "Total number of replies dropped by reason",
			},
			[]string{"reason"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.requestsTotal, m.requestDuration, m.pending, m.connected, m.droppedReplies,
	} {
		_ = registerer.Register(c)
	}

	return m
}

func (m *Metrics) recordRequest(channel, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(channel, result).Inc()
	m.requestDuration.WithLabelValues(channel).Observe(d.Seconds())
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *Metrics) setConnected(v bool) {
	if m == nil {
		return
	}
	if v {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}

func (m *Metrics) recordDropped(reason string) {
	if m == nil {
		return
	}
	m.droppedReplies.WithLabelValues(reason).Inc()
}
