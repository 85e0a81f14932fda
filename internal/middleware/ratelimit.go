package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/observability"
)

// DefaultMaxClients bounds the number of tracked client limiters. The least
// recently seen client is evicted first.
const DefaultMaxClients = 10000

// HeaderRetryAfter is the Retry-After header name.
const HeaderRetryAfter = "Retry-After"

// RateLimiter holds one token bucket per client IP.
type RateLimiter struct {
	rps     rate.Limit
	burst   int
	clients *lru.Cache[string, *rate.Limiter]
	logger  observability.Logger
}

// RateLimiterOption is a functional option for configuring the rate limiter.
type RateLimiterOption func(*rateLimiterOptions)

type rateLimiterOptions struct {
	logger     observability.Logger
	maxClients int
}

// WithRateLimiterLogger sets the logger for the rate limiter.
func WithRateLimiterLogger(logger observability.Logger) RateLimiterOption {
	return func(o *rateLimiterOptions) {
		o.logger = logger
	}
}

// WithMaxClients overrides DefaultMaxClients.
func WithMaxClients(n int) RateLimiterOption {
	return func(o *rateLimiterOptions) {
		o.maxClients = n
	}
}

// NewRateLimiter creates a rate limiter allowing rps requests per second
// with the given burst for every client.
func NewRateLimiter(rps float64, burst int, opts ...RateLimiterOption) (*RateLimiter, error) {
	if rps <= 0 {
		return nil, fmt.Errorf("rate limit: requestsPerSecond must be positive")
	}
	if burst <= 0 {
		burst = 1
	}

	o := rateLimiterOptions{logger: observability.NopLogger(), maxClients: DefaultMaxClients}
	for _, opt := range opts {
		opt(&o)
	}

	clients, err := lru.New[string, *rate.Limiter](o.maxClients)
	if err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		clients: clients,
		logger:  o.logger,
	}, nil
}

// Allow reports whether clientIP may make a request now.
func (rl *RateLimiter) Allow(clientIP string) bool {
	limiter, ok := rl.clients.Get(clientIP)
	if !ok {
		limiter = rate.NewLimiter(rl.rps, rl.burst)
		// A concurrent first request may have stored one already.
		if prev, found, _ := rl.clients.PeekOrAdd(clientIP, limiter); found {
			limiter = prev
		}
	}
	return limiter.Allow()
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	return rl.clients.Len()
}

// RateLimit rejects requests over the client's budget with 429.
func RateLimit(rl *RateLimiter, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if rl.Allow(clientIP) {
			c.Next()
			return
		}

		route := RouteName(c)
		rl.logger.WithContext(c.Request.Context()).Warn("rate limit exceeded",
			observability.String("client_ip", clientIP),
			observability.String("route", route),
		)
		if metrics != nil {
			metrics.RecordRateLimitHit(route)
		}

		c.Header(HeaderRetryAfter, "1")
		Abort(c, http.StatusTooManyRequests, "rate limit exceeded")
	}
}

// RateLimitFromConfig returns nil when rate limiting is disabled.
func RateLimitFromConfig(
	cfg *config.RateLimitConfig,
	logger observability.Logger,
	metrics *observability.Metrics,
) (gin.HandlerFunc, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	rl, err := NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst, WithRateLimiterLogger(logger))
	if err != nil {
		return nil, err
	}
	return RateLimit(rl, metrics), nil
}
