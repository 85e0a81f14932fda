// Package userstore resolves the stored role of a verified subject.
//
// Two read-only backends are provided: a Redis hash per user and a SQL
// users table accessed through bun (PostgreSQL or SQLite).
package userstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/vyrodovalexey/edgegw/internal/auth"
	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/observability"
	"github.com/vyrodovalexey/edgegw/internal/retry"
)

var tracer = otel.Tracer("edgegw/userstore")

// Store is a Resolver with a lifecycle.
type Store interface {
	auth.Resolver

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases resources the store owns.
	Close() error
}

type options struct {
	logger observability.Logger
	retry  *retry.Config
}

// Option configures a store.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithConnectRetry sets the retry policy for the initial connection.
func WithConnectRetry(cfg *retry.Config) Option {
	return func(o *options) {
		o.retry = cfg
	}
}

func applyOptions(opts []Option) *options {
	o := &options{
		logger: observability.NopLogger(),
		retry:  retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// New builds the store selected by cfg.Type. The Redis backend shares rdb
// and does not close it.
func New(ctx context.Context, cfg config.UserStoreConfig, rdb *redis.Client, opts ...Option) (Store, error) {
	switch cfg.Type {
	case config.UserStoreRedis:
		if rdb == nil {
			return nil, fmt.Errorf("userstore: redis backend requires a redis client")
		}
		return NewRedisStore(rdb, cfg.KeyPrefix, opts...), nil
	case config.UserStoreSQL:
		return OpenSQLStore(ctx, cfg.DSN, cfg.Table, opts...)
	default:
		return nil, fmt.Errorf("userstore: unsupported type %q", cfg.Type)
	}
}

// record converts stored fields into a user record.
func record(subject, role, email string) (*auth.UserRecord, error) {
	r, err := auth.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", subject, err)
	}
	return &auth.UserRecord{Role: r, Email: email}, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", auth.ErrStoreUnavailable, err)
}
