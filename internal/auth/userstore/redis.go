package userstore

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vyrodovalexey/edgegw/internal/auth"
	"github.com/vyrodovalexey/edgegw/internal/observability"
)

// Hash fields of a user record.
const (
	FieldRole  = "role"
	FieldEmail = "email"
)

// RedisStore reads user records stored as hashes at <prefix><uid>.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger observability.Logger
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore over a shared client.
func NewRedisStore(client *redis.Client, prefix string, opts ...Option) *RedisStore {
	o := applyOptions(opts)
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: o.logger,
	}
}

// Resolve implements auth.Resolver.
func (s *RedisStore) Resolve(ctx context.Context, subject string) (*auth.UserRecord, error) {
	ctx, span := tracer.Start(ctx, "userstore.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("edgegw.userstore", "redis"))

	fields, err := s.client.HMGet(ctx, s.prefix+subject, FieldRole, FieldEmail).Result()
	if err != nil {
		span.SetStatus(codes.Error, "store unavailable")
		s.logger.WithContext(ctx).Warn("user store lookup failed", observability.Error(err))
		return nil, unavailable(err)
	}

	role, _ := fields[0].(string)
	email, _ := fields[1].(string)
	if fields[0] == nil {
		return nil, auth.ErrUserNotFound
	}

	return record(subject, role, email)
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Close is a no-op; the client belongs to the caller.
func (s *RedisStore) Close() error {
	return nil
}
