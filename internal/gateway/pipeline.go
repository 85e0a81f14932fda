// Package gateway serves the route table over HTTP and runs the guard chain
// shared by every transport: authenticate, authorize, validate, dispatch.
package gateway

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vyrodovalexey/edgegw/internal/auth"
	"github.com/vyrodovalexey/edgegw/internal/authz"
	"github.com/vyrodovalexey/edgegw/internal/route"
)

var tracer = otel.Tracer("edgegw/gateway")

// Authenticator resolves the caller of a call.
type Authenticator interface {
	Authenticate(ctx context.Context, carrier auth.Carrier) (*auth.Identity, error)
}

// Authorizer decides whether an identity may invoke a route.
type Authorizer interface {
	Authorize(ctx context.Context, identity *auth.Identity, d *route.Descriptor, params map[string]any) (*authz.Decision, error)
}

// Dispatcher sends an authorized call to its backend channel.
type Dispatcher interface {
	Dispatch(
		ctx context.Context,
		d *route.Descriptor,
		identity *auth.Identity,
		body map[string]any,
		params map[string]string,
	) (json.RawMessage, error)
}

// Call is one inbound call, independent of its transport.
type Call struct {
	Route   *route.Descriptor
	Carrier auth.Carrier

	// Body is the decoded payload. It is forwarded in the envelope.
	Body map[string]any

	// Decode, when set, produces Body after authorization so that callers
	// who may not invoke the route never reach payload parsing.
	Decode func() (map[string]any, error)

	// Params are path parameters, forwarded in the envelope.
	Params map[string]string

	// Attrs are exposed to route predicates as "params".
	Attrs map[string]any
}

// Pipeline runs the guard chain. It holds no per-call state.
type Pipeline struct {
	authenticator Authenticator
	authorizer    Authorizer
	dispatcher    Dispatcher
}

// NewPipeline creates a Pipeline.
func NewPipeline(authenticator Authenticator, authorizer Authorizer, dispatcher Dispatcher) *Pipeline {
	return &Pipeline{
		authenticator: authenticator,
		authorizer:    authorizer,
		dispatcher:    dispatcher,
	}
}

// Handle authenticates the caller unless the route is public, authorizes,
// validates the body and dispatches. Nothing is dispatched when an earlier
// stage fails.
func (p *Pipeline) Handle(ctx context.Context, call *Call) (json.RawMessage, error) {
	d := call.Route

	ctx, span := tracer.Start(ctx, "gateway.Handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("edgegw.route", d.Name),
		attribute.Bool("edgegw.public", d.Public),
	)

	resp, err := p.handle(ctx, call)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, err
}

func (p *Pipeline) handle(ctx context.Context, call *Call) (json.RawMessage, error) {
	d := call.Route

	var identity *auth.Identity
	if !d.Public {
		var err error
		identity, err = p.authenticator.Authenticate(ctx, call.Carrier)
		if err != nil {
			return nil, err
		}
	}

	if _, err := p.authorizer.Authorize(ctx, identity, d, call.Attrs); err != nil {
		return nil, err
	}

	body := call.Body
	if call.Decode != nil {
		var err error
		if body, err = call.Decode(); err != nil {
			return nil, err
		}
	}
	if err := d.Validate(body); err != nil {
		return nil, err
	}

	return p.dispatcher.Dispatch(ctx, d, identity, body, call.Params)
}
