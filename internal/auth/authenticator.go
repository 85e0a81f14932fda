package auth

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vyrodovalexey/edgegw/internal/observability"
)

var authTracer = otel.Tracer("edgegw/auth")

// Claims are the verified claims of an ID token.
type Claims struct {
	Subject     string
	Email       string
	PhoneNumber string
	Issuer      string
	Audience    []string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Verifier checks a bearer credential with the identity provider.
//
// Implementations return ErrMissingCredential for an empty credential and
// ErrInvalidCredential for every other rejection.
type Verifier interface {
	Verify(ctx context.Context, credential string) (*Claims, error)
}

// UserRecord is the part of a user record the gateway reads.
type UserRecord struct {
	Role  Role
	Email string
}

// Resolver looks up the user record of a verified subject. It never writes.
//
// Implementations return ErrUserNotFound, ErrUnknownRole or
// ErrStoreUnavailable.
type Resolver interface {
	Resolve(ctx context.Context, subject string) (*UserRecord, error)
}

// Authenticator runs the verify and resolve steps for any Carrier.
type Authenticator struct {
	verifier Verifier
	resolver Resolver
	logger   observability.Logger
	metrics  *Metrics
}

// Option is a functional option for the Authenticator.
type Option func(*Authenticator)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(a *Authenticator) {
		a.metrics = metrics
	}
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(verifier Verifier, resolver Resolver, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier: verifier,
		resolver: resolver,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate extracts the credential from the carrier, verifies it,
// resolves the caller's role and attaches the resulting identity to the
// carrier. On failure nothing is attached and the returned error matches
// ErrUnauthenticated.
func (a *Authenticator) Authenticate(ctx context.Context, carrier Carrier) (*Identity, error) {
	ctx, span := authTracer.Start(ctx, "auth.Authenticate")
	defer span.End()

	start := time.Now()
	transport := carrier.Transport()
	span.SetAttributes(attribute.String("edgegw.transport", transport))

	identity, err := a.authenticate(ctx, carrier)
	if err != nil {
		authErr := newError(err)
		span.SetStatus(codes.Error, authErr.Reason)
		span.SetAttributes(attribute.String("edgegw.auth.reason", authErr.Reason))
		a.logger.WithContext(ctx).Debug("authentication rejected",
			observability.String("transport", transport),
			observability.String("reason", authErr.Reason),
			observability.Error(err),
		)
		a.metrics.recordFailure(transport, authErr.Reason, time.Since(start))
		return nil, authErr
	}

	span.SetAttributes(
		attribute.String("edgegw.user_id", identity.UserID),
		attribute.String("edgegw.role", identity.Role.String()),
	)
	a.metrics.recordSuccess(transport, time.Since(start))

	carrier.AttachIdentity(identity)
	return identity, nil
}

func (a *Authenticator) authenticate(ctx context.Context, carrier Carrier) (*Identity, error) {
	credential, err := carrier.ExtractCredential()
	if err != nil {
		return nil, err
	}

	claims, err := a.verifier.Verify(ctx, credential)
	if err != nil {
		return nil, err
	}
	if claims == nil || claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidCredential)
	}

	record, err := a.resolver.Resolve(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrUserNotFound
	}

	email := record.Email
	if email == "" {
		email = claims.Email
	}

	return &Identity{
		UserID:   claims.Subject,
		Role:     record.Role,
		RawToken: credential,
		Email:    email,
	}, nil
}
