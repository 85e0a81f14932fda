// Package dispatch turns an authorized call into a command envelope, sends
// it to the route's backend channel and classifies the outcome.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vyrodovalexey/edgegw/internal/auth"
	"github.com/vyrodovalexey/edgegw/internal/broker"
	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/observability"
	"github.com/vyrodovalexey/edgegw/internal/route"
)

var tracer = otel.Tracer("edgegw/dispatch")

// ErrUpstreamUnavailable indicates that no reply could be obtained: the
// broker is down, the channel's breaker is open, or the call timed out.
// Timeouts also match context.DeadlineExceeded.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// Dispatcher sends envelopes through a broker.Requester.
type Dispatcher struct {
	requester broker.Requester
	breakers  map[string]*gobreaker.CircuitBreaker
	logger    observability.Logger
	metrics   *Metrics
}

// Option is a functional option for the Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = metrics
	}
}

// NewDispatcher creates a Dispatcher. When cb is enabled, one breaker is
// created per channel used by table.
func NewDispatcher(
	requester broker.Requester,
	table *route.Table,
	cb *config.CircuitBreakerConfig,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		requester: requester,
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}

	if cb != nil && cb.Enabled {
		cfg := defaultBreaker(cb)
		d.breakers = make(map[string]*gobreaker.CircuitBreaker)
		for _, desc := range table.Descriptors() {
			if _, ok := d.breakers[desc.Channel]; !ok {
				d.breakers[desc.Channel] = newBreaker(desc.Channel, cfg, d.logger, d.metrics)
			}
		}
	}

	return d
}

// Dispatch builds the envelope for desc and waits for one reply within the
// route timeout. Backend errors are returned as *broker.RemoteError;
// everything else that prevents a reply wraps ErrUpstreamUnavailable.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	desc *route.Descriptor,
	identity *auth.Identity,
	body map[string]any,
	params map[string]string,
) (json.RawMessage, error) {
	env := BuildEnvelope(desc.Command, desc.Channel, identity, body, params)

	ctx, span := tracer.Start(ctx, "dispatch.Dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("edgegw.route", desc.Name),
		attribute.String("edgegw.command", env.Cmd),
		attribute.String("edgegw.channel", env.Channel),
	)

	if desc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, desc.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := d.send(ctx, env)
	result := resultFor(err)
	d.metrics.recordDispatch(env.Channel, env.Cmd, result, time.Since(start))

	if err != nil {
		span.SetStatus(codes.Error, result)
		d.logger.WithContext(ctx).Debug("dispatch failed",
			observability.String("route", desc.Name),
			observability.String("channel", env.Channel),
			observability.String("result", result),
			observability.Error(err),
		)
	}
	return resp, err
}

func (d *Dispatcher) send(ctx context.Context, env *Envelope) (json.RawMessage, error) {
	call := func() (interface{}, error) {
		return d.requester.Request(ctx, env.Channel, env.Cmd, env.Payload)
	}

	var out interface{}
	var err error
	if cb, ok := d.breakers[env.Channel]; ok {
		out, err = cb.Execute(call)
	} else {
		out, err = call()
	}

	if err != nil {
		var remote *broker.RemoteError
		if errors.As(err, &remote) {
			return nil, remote
		}
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}

	resp, _ := out.(json.RawMessage)
	return resp, nil
}

// BreakerState returns the breaker state of channel, or "disabled".
func (d *Dispatcher) BreakerState(channel string) string {
	cb, ok := d.breakers[channel]
	if !ok {
		return "disabled"
	}
	return cb.State().String()
}

func resultFor(err error) string {
	var remote *broker.RemoteError
	switch {
	case err == nil:
		return resultOK
	case errors.As(err, &remote):
		return resultRemoteError
	case errors.Is(err, context.DeadlineExceeded):
		return resultTimeout
	case breakerOpen(err):
		return resultCircuitOpen
	default:
		return resultUnavailable
	}
}
