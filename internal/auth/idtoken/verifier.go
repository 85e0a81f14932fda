// Package idtoken verifies identity provider ID tokens (Firebase style RS256
// JWTs) against the provider's published JSON Web Key Set.
package idtoken

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/vyrodovalexey/edgegw/internal/auth"
	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/observability"
)

var tracer = otel.Tracer("edgegw/idtoken")

// Config configures a Verifier.
type Config struct {
	Issuer          string
	Audience        string
	JWKSURL         string
	RefreshInterval time.Duration
	ClockSkew       time.Duration
	Algorithms      []string
}

// ConfigFrom converts the identity section of the gateway configuration.
func ConfigFrom(c config.IdentityConfig) Config {
	return Config{
		Issuer:          c.Issuer,
		Audience:        c.Audience,
		JWKSURL:         c.JWKSURL,
		RefreshInterval: c.RefreshInterval.Duration(),
		ClockSkew:       c.ClockSkew.Duration(),
		Algorithms:      c.Algorithms,
	}
}

// Verifier verifies ID tokens. It is safe for concurrent use.
type Verifier struct {
	cfg     Config
	cache   *jwk.Cache
	cancel  context.CancelFunc
	allowed map[jwa.SignatureAlgorithm]bool
	clock   func() time.Time
	logger  observability.Logger
	metrics *Metrics
}

var _ auth.Verifier = (*Verifier)(nil)

// Option configures a Verifier.
type Option func(*Verifier)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(v *Verifier) {
		v.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) Option {
	return func(v *Verifier) {
		v.metrics = m
	}
}

// WithClock overrides the clock used for exp/iat checks.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		v.clock = now
	}
}

// NewVerifier creates a Verifier and registers the key set URL with an
// auto-refreshing cache. Keys are fetched lazily on the first Verify.
func NewVerifier(cfg Config, opts ...Option) (*Verifier, error) {
	if cfg.JWKSURL == "" {
		return nil, fmt.Errorf("idtoken: jwks url is required")
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, fmt.Errorf("idtoken: issuer and audience are required")
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = config.DefaultJWKSRefresh
	}
	if len(cfg.Algorithms) == 0 {
		cfg.Algorithms = []string{config.DefaultSigningAlgorithm}
	}

	allowed := make(map[jwa.SignatureAlgorithm]bool, len(cfg.Algorithms))
	for _, name := range cfg.Algorithms {
		var alg jwa.SignatureAlgorithm
		if err := alg.Accept(name); err != nil {
			return nil, fmt.Errorf("idtoken: unsupported algorithm %q: %w", name, err)
		}
		if alg == jwa.NoSignature || strings.HasPrefix(alg.String(), "HS") {
			return nil, fmt.Errorf("idtoken: algorithm %q is not allowed", name)
		}
		allowed[alg] = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	cache := jwk.NewCache(ctx)
	if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(cfg.RefreshInterval)); err != nil {
		cancel()
		return nil, fmt.Errorf("idtoken: register jwks url: %w", err)
	}

	v := &Verifier{
		cfg:     cfg,
		cache:   cache,
		cancel:  cancel,
		allowed: allowed,
		clock:   time.Now,
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(v)
	}

	return v, nil
}

// Verify checks the token signature, issuer, audience and lifetime. It
// returns auth.ErrMissingCredential for an empty credential and
// auth.ErrInvalidCredential for any other failure; the specific cause is
// only logged at debug level.
func (v *Verifier) Verify(ctx context.Context, credential string) (*auth.Claims, error) {
	if credential == "" {
		v.metrics.record(resultMissing)
		return nil, auth.ErrMissingCredential
	}

	ctx, span := tracer.Start(ctx, "idtoken.Verify")
	defer span.End()

	start := time.Now()
	claims, err := v.verify(ctx, credential)
	v.metrics.observe(time.Since(start))
	if err != nil {
		span.SetStatus(codes.Error, "invalid credential")
		v.metrics.record(resultInvalid)
		v.logger.WithContext(ctx).Debug("id token rejected", observability.Error(err))
		return nil, fmt.Errorf("%w: %w", auth.ErrInvalidCredential, err)
	}

	v.metrics.record(resultValid)
	return claims, nil
}

func (v *Verifier) verify(ctx context.Context, credential string) (*auth.Claims, error) {
	msg, err := jws.Parse([]byte(credential))
	if err != nil {
		return nil, fmt.Errorf("malformed token: %w", err)
	}
	sigs := msg.Signatures()
	if len(sigs) != 1 {
		return nil, fmt.Errorf("expected one signature, got %d", len(sigs))
	}
	if alg := sigs[0].ProtectedHeaders().Algorithm(); !v.allowed[alg] {
		return nil, fmt.Errorf("algorithm %q not allowed", alg)
	}

	keySet, err := v.cache.Get(ctx, v.cfg.JWKSURL)
	if err != nil {
		return nil, fmt.Errorf("fetch key set: %w", err)
	}

	token, err := jwt.Parse([]byte(credential),
		jwt.WithKeySet(keySet, jws.WithInferAlgorithmFromKey(true)),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithAudience(v.cfg.Audience),
		jwt.WithAcceptableSkew(v.cfg.ClockSkew),
		jwt.WithClock(jwt.ClockFunc(v.clock)),
		jwt.WithRequiredClaim(jwt.SubjectKey),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
	)
	if err != nil {
		return nil, err
	}

	return &auth.Claims{
		Subject:     token.Subject(),
		Email:       stringClaim(token, "email"),
		PhoneNumber: stringClaim(token, "phone_number"),
		Issuer:      token.Issuer(),
		Audience:    token.Audience(),
		IssuedAt:    token.IssuedAt(),
		ExpiresAt:   token.Expiration(),
	}, nil
}

// Refresh forces a key set fetch. It is used at startup to report a
// misconfigured or unreachable URL before the first token arrives.
func (v *Verifier) Refresh(ctx context.Context) error {
	if _, err := v.cache.Refresh(ctx, v.cfg.JWKSURL); err != nil {
		return fmt.Errorf("idtoken: refresh key set: %w", err)
	}
	return nil
}

// Close stops the key set refresh goroutine.
func (v *Verifier) Close() error {
	v.cancel()
	return nil
}

func stringClaim(token jwt.Token, name string) string {
	raw, ok := token.Get(name)
	if !ok {
		return ""
	}
	s, _ := raw.(string)
	return s
}
