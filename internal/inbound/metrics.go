package inbound

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultOK      = "ok"
	resultError   = "error"
	dropMalformed = "malformed"
)

// Metrics contains inbound consumer metrics.
type Metrics struct {
	messagesTotal   *prometheus.CounterVec
	messageDuration *prometheus.HistogramVec
	dropped         *prometheus.CounterVec
	inFlight        prometheus.Gauge
}

// NewMetricsWithRegisterer creates inbound metrics on registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "edgegw"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		messagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "inbound",
				Name:      "messages_total",
				Help:      "Total number of inbound messages by command, result and status",
			},
			[]string{"command", "result", "status"},
		),
		messageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "inbound",
				Name:      "message_duration_seconds",
				Help:      "Inbound message processing duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"command"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "inbound",
				Name:      "dropped_messages_total",
				Help:      "Total number of inbound messages dropped without a reply",
			},
			[]string{"reason"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "inbound",
				Name:      "in_flight_messages",
				Help:      "Number of inbound messages being processed",
			},
		),
	}

	_ = registerer.Register(m.messagesTotal)
	_ = registerer.Register(m.messageDuration)
	_ = registerer.Register(m.dropped)
	_ = registerer.Register(m.inFlight)

	return m
}

func (m *Metrics) recordMessage(command, result, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(command, result, status).Inc()
	m.messageDuration.WithLabelValues(command).Observe(d.Seconds())
}

func (m *Metrics) recordDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) addInFlight(delta float64) {
	if m == nil {
		return
	}
	m.inFlight.Add(delta)
}
