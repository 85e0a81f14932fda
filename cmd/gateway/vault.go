package main

import (
	"context"
	"os"
	"time"

	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/observability"
	"github.com/vyrodovalexey/edgegw/internal/retry"
	"github.com/vyrodovalexey/edgegw/internal/secrets"
)

// vaultStartupTimeout bounds the whole secret load including retries.
const vaultStartupTimeout = 30 * time.Second

// applyVaultSecrets overrides configured credentials with the gateway
// secret when Vault is enabled. VAULT_ADDR and VAULT_TOKEN fill in an
// address or token missing from the configuration.
func applyVaultSecrets(ctx context.Context, cfg *config.GatewayConfig, logger observability.Logger) error {
	if !cfg.Vault.Enabled {
		return nil
	}

	vaultCfg := cfg.Vault
	if vaultCfg.Address == "" {
		vaultCfg.Address = os.Getenv("VAULT_ADDR")
	}
	if vaultCfg.Token == "" {
		vaultCfg.Token = os.Getenv("VAULT_TOKEN")
	}

	provider, err := secrets.NewVaultProvider(vaultCfg, secrets.WithVaultLogger(logger))
	if err != nil {
		return err
	}
	defer func() { _ = provider.Close() }()

	ctx, cancel := context.WithTimeout(ctx, vaultStartupTimeout)
	defer cancel()

	// Vault may still be starting alongside the gateway.
	retryCfg := &retry.Config{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		JitterFactor:   retry.DefaultJitterFactor,
	}
	err = retry.Do(ctx, retryCfg, func() error {
		return secrets.Apply(ctx, provider, vaultCfg.Path, cfg)
	}, &retry.Options{
		OnRetry: func(attempt int, retryErr error, backoff time.Duration) {
			logger.Warn("vault secret load failed, retrying",
				observability.Int("attempt", attempt),
				observability.Duration("backoff", backoff),
				observability.Error(retryErr),
			)
		},
	})
	if err != nil {
		return err
	}

	logger.Info("secrets loaded from vault",
		observability.String("address", vaultCfg.Address),
		observability.String("path", vaultCfg.Path),
	)
	return nil
}
