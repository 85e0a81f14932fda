package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/edgegw/internal/broker"
	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/observability"
)

// newBreaker creates the breaker guarding one channel. Remote application
// errors and caller cancellations do not count as failures.
func newBreaker(channel string, cfg *config.CircuitBreakerConfig, logger observability.Logger, metrics *Metrics) *gobreaker.CircuitBreaker {
	threshold := safeIntToUint32(cfg.Threshold)
	maxRequests := safeIntToUint32(cfg.MaxRequests)
	if maxRequests == 0 {
		maxRequests = 1
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        channel,
		MaxRequests: maxRequests,
		Interval:    cfg.Interval.Duration(),
		Timeout:     cfg.Timeout.Duration(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= threshold && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state change",
				observability.String("channel", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
			metrics.recordBreakerState(name, from, to)

			_, span := tracer.Start(context.Background(), "dispatch.breaker_state_change",
				trace.WithSpanKind(trace.SpanKindInternal),
			)
			span.AddEvent("state_change", trace.WithAttributes(
				attribute.String("circuitbreaker.name", name),
				attribute.String("circuitbreaker.from", from.String()),
				attribute.String("circuitbreaker.to", to.String()),
			))
			span.End()
		},
		IsSuccessful: func(err error) bool {
			var remote *broker.RemoteError
			return err == nil || errors.As(err, &remote) || errors.Is(err, context.Canceled)
		},
	})
}

func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) //nolint:gosec // bounds checked above
}

func breakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// defaultBreaker fills zero breaker settings.
func defaultBreaker(cfg *config.CircuitBreakerConfig) *config.CircuitBreakerConfig {
	out := *cfg
	if out.Threshold <= 0 {
		out.Threshold = 5
	}
	if out.Timeout <= 0 {
		out.Timeout = config.Duration(30 * time.Second)
	}
	return &out
}
