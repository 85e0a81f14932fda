package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/observability"
)

// VaultProvider reads secrets from a Vault KV v2 engine with token auth.
type VaultProvider struct {
	client *vaultapi.Client
	mount  string
	logger observability.Logger
}

var _ Provider = (*VaultProvider)(nil)

// VaultOption configures a VaultProvider.
type VaultOption func(*VaultProvider)

// WithVaultLogger sets the logger.
func WithVaultLogger(logger observability.Logger) VaultOption {
	return func(p *VaultProvider) {
		p.logger = logger
	}
}

// NewVaultProvider creates a Vault provider from configuration.
func NewVaultProvider(cfg config.VaultConfig, opts ...VaultOption) (*VaultProvider, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("%w: vault address is required", ErrProviderNotConfigured)
	}

	apiConfig := vaultapi.DefaultConfig()
	if apiConfig.Error != nil {
		return nil, fmt.Errorf("vault default config: %w", apiConfig.Error)
	}
	apiConfig.Address = cfg.Address
	apiConfig.MaxRetries = 0

	client, err := vaultapi.NewClient(apiConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	mount := strings.Trim(cfg.Mount, "/")
	if mount == "" {
		mount = config.DefaultVaultMount
	}

	p := &VaultProvider{
		client: client,
		mount:  mount,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.logger.Info("vault secrets provider initialized",
		observability.String("address", cfg.Address),
		observability.String("mount", mount),
	)

	return p, nil
}

// GetSecret reads <mount>/data/<path> and flattens the KV v2 payload to
// strings. Non-string values are JSON encoded.
func (p *VaultProvider) GetSecret(ctx context.Context, path string) (*Secret, error) {
	path = strings.Trim(path, "/")
	fullPath := p.mount + "/data/" + path

	p.logger.Debug("reading vault secret", observability.String("path", fullPath))

	raw, err := p.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	if raw == nil || raw.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, path)
	}

	data, ok := raw.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: %s has no data", ErrSecretNotFound, path)
	}

	secret := &Secret{Path: path, Data: make(map[string]string, len(data))}
	for k, v := range data {
		switch val := v.(type) {
		case string:
			secret.Data[k] = val
		default:
			encoded, err := json.Marshal(val)
			if err != nil {
				return nil, fmt.Errorf("encode secret key %s: %w", k, err)
			}
			secret.Data[k] = string(encoded)
		}
	}

	if meta, ok := raw.Data["metadata"].(map[string]interface{}); ok {
		if version, ok := meta["version"].(json.Number); ok {
			if n, err := version.Int64(); err == nil {
				secret.Version = int(n)
			}
		}
	}

	return secret, nil
}

// HealthCheck queries the Vault health endpoint.
func (p *VaultProvider) HealthCheck(ctx context.Context) error {
	health, err := p.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	if health.Sealed {
		return fmt.Errorf("%w: vault is sealed", ErrProviderUnavailable)
	}
	return nil
}

// Close clears the client token.
func (p *VaultProvider) Close() error {
	p.client.ClearToken()
	return nil
}
