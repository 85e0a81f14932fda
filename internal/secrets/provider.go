// Package secrets loads gateway credentials from an external secret store
// so that they never have to appear in the configuration file.
package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/vyrodovalexey/edgegw/internal/config"
)

// Common errors for secrets providers.
var (
	// ErrSecretNotFound is returned when a secret is not found.
	ErrSecretNotFound = errors.New("secret not found")
	// ErrProviderNotConfigured is returned when the provider is not properly configured.
	ErrProviderNotConfigured = errors.New("provider not configured")
	// ErrProviderUnavailable is returned when the provider cannot be reached.
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// Keys read from the gateway secret.
const (
	KeyRedisPassword = "redisPassword"
	KeyUserStoreDSN  = "userStoreDsn"
)

// Secret is a key/value secret.
type Secret struct {
	Path    string
	Data    map[string]string
	Version int
}

// GetString returns a string value from the secret data.
func (s *Secret) GetString(key string) (string, bool) {
	if s == nil || s.Data == nil {
		return "", false
	}
	v, ok := s.Data[key]
	return v, ok
}

// Provider reads secrets.
type Provider interface {
	// GetSecret retrieves a secret by path.
	GetSecret(ctx context.Context, path string) (*Secret, error)

	// HealthCheck checks provider connectivity.
	HealthCheck(ctx context.Context) error

	// Close releases provider resources.
	Close() error
}

// Apply reads the secret at path and overrides the matching configuration
// fields. Keys missing from the secret leave the configuration untouched.
func Apply(ctx context.Context, p Provider, path string, cfg *config.GatewayConfig) error {
	secret, err := p.GetSecret(ctx, path)
	if err != nil {
		return fmt.Errorf("load gateway secret %q: %w", path, err)
	}

	if v, ok := secret.GetString(KeyRedisPassword); ok {
		cfg.Redis.Password = v
	}
	if v, ok := secret.GetString(KeyUserStoreDSN); ok {
		cfg.UserStore.DSN = v
	}

	return nil
}
