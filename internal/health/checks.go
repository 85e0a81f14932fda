package health

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Pinger is implemented by dependencies with a cheap liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RedisCheck pings a Redis client.
func RedisCheck(client *redis.Client) CheckFunc {
	return func(ctx context.Context) error {
		if client == nil {
			return fmt.Errorf("redis client is nil")
		}
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		return nil
	}
}

// PingCheck adapts a Pinger.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if p == nil {
			return fmt.Errorf("dependency is nil")
		}
		return p.Ping(ctx)
	}
}
