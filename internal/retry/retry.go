package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Default retry configuration constants.
const (
	// DefaultMaxRetries is the default maximum number of retry attempts.
	DefaultMaxRetries = 3

	// DefaultInitialBackoff is the default initial backoff duration.
	DefaultInitialBackoff = 100 * time.Millisecond

	// DefaultMaxBackoff is the default maximum backoff duration.
	DefaultMaxBackoff = 30 * time.Second

	// DefaultJitterFactor is the default jitter factor (25%).
	DefaultJitterFactor = 0.25

	// MaxJitterFactor is the maximum allowed jitter factor.
	MaxJitterFactor = 1.0

	// maxBackoffExponent keeps 2^attempt finite.
	maxBackoffExponent = 32
)

// Config contains retry configuration parameters.
type Config struct {
	// MaxRetries is the maximum number of retry attempts for Do.
	// Backoff ignores it.
	MaxRetries int

	// InitialBackoff is the first wait.
	InitialBackoff time.Duration

	// MaxBackoff caps every wait.
	MaxBackoff time.Duration

	// JitterFactor adds up to this fraction of randomness to each wait.
	JitterFactor float64
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		JitterFactor:   DefaultJitterFactor,
	}
}

// GetMaxRetries returns the effective max retries.
func (c *Config) GetMaxRetries() int {
	if c == nil || c.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return c.MaxRetries
}

// GetInitialBackoff returns the effective initial backoff.
func (c *Config) GetInitialBackoff() time.Duration {
	if c == nil || c.InitialBackoff <= 0 {
		return DefaultInitialBackoff
	}
	return c.InitialBackoff
}

// GetMaxBackoff returns the effective max backoff.
func (c *Config) GetMaxBackoff() time.Duration {
	if c == nil || c.MaxBackoff <= 0 {
		return DefaultMaxBackoff
	}
	return c.MaxBackoff
}

// GetJitterFactor returns the effective jitter factor.
func (c *Config) GetJitterFactor() float64 {
	if c == nil || c.JitterFactor <= 0 {
		return DefaultJitterFactor
	}
	if c.JitterFactor > MaxJitterFactor {
		return MaxJitterFactor
	}
	return c.JitterFactor
}

// RetryableFunc is a function that can be retried.
type RetryableFunc func() error

// Options contains optional retry behavior.
type Options struct {
	// ShouldRetry reports whether an error is worth retrying.
	// If nil, all errors are retried.
	ShouldRetry func(error) bool

	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, backoff time.Duration)
}

// Do executes fn until it succeeds, the retries are exhausted, or ctx ends.
// The last error from fn is returned.
func Do(ctx context.Context, cfg *Config, fn RetryableFunc, opts *Options) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	maxRetries := cfg.GetMaxRetries()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if opts != nil && opts.ShouldRetry != nil && !opts.ShouldRetry(lastErr) {
			return lastErr
		}

		if attempt == maxRetries {
			break
		}

		wait := CalculateBackoff(attempt, cfg.GetInitialBackoff(), cfg.GetMaxBackoff(), cfg.GetJitterFactor())
		if opts != nil && opts.OnRetry != nil {
			opts.OnRetry(attempt+1, lastErr, wait)
		}

		if !sleep(ctx, wait) {
			return ctx.Err()
		}
	}

	return lastErr
}

// CalculateBackoff returns the wait before retry number attempt (zero based).
func CalculateBackoff(attempt int, initialBackoff, maxBackoff time.Duration, jitterFactor float64) time.Duration {
	attempt = min(max(attempt, 0), maxBackoffExponent)

	backoff := float64(initialBackoff) * math.Pow(2, float64(attempt))

	//nolint:gosec // G404: jitter for retry timing is not security-sensitive
	backoff += backoff * jitterFactor * rand.Float64()

	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	return time.Duration(backoff)
}

// Backoff tracks consecutive failures of a reconnect loop.
// It is not safe for concurrent use; each loop owns one.
type Backoff struct {
	cfg     *Config
	attempt int
}

// NewBackoff creates a Backoff from cfg. A nil cfg uses the defaults.
func NewBackoff(cfg *Config) *Backoff {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Backoff{cfg: cfg}
}

// Next returns the next wait and advances the attempt counter.
func (b *Backoff) Next() time.Duration {
	d := CalculateBackoff(b.attempt, b.cfg.GetInitialBackoff(), b.cfg.GetMaxBackoff(), b.cfg.GetJitterFactor())
	b.attempt++
	return d
}

// Attempt returns the number of failures since the last Reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Reset clears the failure count after a success.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Wait sleeps for Next and reports false if ctx ended first.
func (b *Backoff) Wait(ctx context.Context) bool {
	return sleep(ctx, b.Next())
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
