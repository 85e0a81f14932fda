// Package authz decides whether an authenticated identity may invoke a route.
//
// A route admits a caller when the caller's role is in the route's required
// set (an empty set admits everyone) and every declared CEL predicate
// evaluates to true. Predicates see three variables:
//
//	identity  map with userId, role and email
//	params    path parameters, or the message data for async calls
//	command   the route command
//
// Predicates are compiled when the Authorizer is built. Evaluation errors
// deny.
package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vyrodovalexey/edgegw/internal/auth"
	"github.com/vyrodovalexey/edgegw/internal/observability"
	"github.com/vyrodovalexey/edgegw/internal/route"
)

var tracer = otel.Tracer("edgegw/authz")

const (
	decisionAllowed = "allowed"
	decisionDenied  = "denied"
)

// CEL variable names.
const (
	VarIdentity = "identity"
	VarParams   = "params"
	VarCommand  = "command"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Route   string
	Reason  string
}

type predicate struct {
	source  string
	program cel.Program
}

// Authorizer evaluates route requirements. It holds no mutable state after
// construction and is safe for concurrent use.
type Authorizer struct {
	predicates map[string][]predicate
	logger     observability.Logger
	metrics    *Metrics
}

// Option is a functional option for the Authorizer.
type Option func(*Authorizer)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(a *Authorizer) {
		a.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(a *Authorizer) {
		a.metrics = metrics
	}
}

// NewAuthorizer compiles the predicates of every route in table.
func NewAuthorizer(table *route.Table, opts ...Option) (*Authorizer, error) {
	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("authz: create CEL environment: %w", err)
	}

	a := &Authorizer{
		predicates: make(map[string][]predicate),
		logger:     observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}

	for _, d := range table.Descriptors() {
		for _, src := range d.Predicates {
			prg, err := compile(env, src)
			if err != nil {
				return nil, fmt.Errorf("authz: route %q: predicate %q: %w", d.Name, src, err)
			}
			a.predicates[d.Name] = append(a.predicates[d.Name], predicate{source: src, program: prg})
		}
	}

	return a, nil
}

func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable(VarIdentity, cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable(VarParams, cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable(VarCommand, cel.StringType),
	)
}

func compile(env *cel.Env, src string) (cel.Program, error) {
	ast, iss := env.Compile(src)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("must evaluate to bool, not %s", out)
	}
	return env.Program(ast)
}

// Authorize admits or denies identity for d. A denial returns a non-nil
// Decision and an error matching ErrForbidden. params may be nil.
func (a *Authorizer) Authorize(
	ctx context.Context,
	identity *auth.Identity,
	d *route.Descriptor,
	params map[string]any,
) (*Decision, error) {
	ctx, span := tracer.Start(ctx, "authz.Authorize")
	defer span.End()
	span.SetAttributes(attribute.String("edgegw.route", d.Name))

	start := time.Now()
	decision := a.evaluate(identity, d, params)
	a.metrics.RecordDecision(d.Name, decision.Allowed, time.Since(start))

	if decision.Allowed {
		return decision, nil
	}

	span.SetStatus(codes.Error, decision.Reason)
	subject := ""
	if identity != nil {
		subject = identity.UserID
	}
	a.logger.WithContext(ctx).Debug("authorization denied",
		observability.String("route", d.Name),
		observability.String("user_id", subject),
		observability.String("reason", decision.Reason),
	)
	return decision, &DeniedError{Route: d.Name, Subject: subject, Reason: decision.Reason}
}

func (a *Authorizer) evaluate(identity *auth.Identity, d *route.Descriptor, params map[string]any) *Decision {
	if d.Public {
		return &Decision{Allowed: true, Route: d.Name, Reason: "public route"}
	}
	if identity == nil {
		return &Decision{Route: d.Name, Reason: "no identity"}
	}
	if !d.HasRole(identity.Role) {
		return &Decision{Route: d.Name, Reason: fmt.Sprintf("role %s not permitted", identity.Role)}
	}

	predicates := a.predicates[d.Name]
	if len(predicates) == 0 {
		return &Decision{Allowed: true, Route: d.Name, Reason: "role permitted"}
	}

	if params == nil {
		params = map[string]any{}
	}
	vars := map[string]any{
		VarIdentity: identity.Attributes(),
		VarParams:   params,
		VarCommand:  d.Command,
	}

	for _, p := range predicates {
		out, _, err := p.program.Eval(vars)
		if err != nil {
			return &Decision{Route: d.Name, Reason: fmt.Sprintf("predicate %q: %v", p.source, err)}
		}
		if ok, isBool := out.Value().(bool); !isBool || !ok {
			return &Decision{Route: d.Name, Reason: fmt.Sprintf("predicate %q not satisfied", p.source)}
		}
	}

	return &Decision{Allowed: true, Route: d.Name, Reason: "role and predicates satisfied"}
}
