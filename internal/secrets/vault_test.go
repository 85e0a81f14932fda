package secrets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/edgegw/internal/config"
)

const testToken = "s.test-token"

// newFakeVault serves a single KV v2 secret at secret/data/edgegw.
func newFakeVault(t *testing.T, data map[string]any) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/secret/data/edgegw", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != testToken {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"data":     data,
				"metadata": map[string]any{"version": 3},
			},
		})
	})
	mux.HandleFunc("/v1/sys/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"initialized":true,"sealed":false,"standby":false}`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errors":[]}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestProvider(t *testing.T, addr, token string) *VaultProvider {
	t.Helper()

	p, err := NewVaultProvider(config.VaultConfig{Address: addr, Token: token, Mount: "secret"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestNewVaultProvider_RequiresAddress(t *testing.T) {
	t.Parallel()

	_, err := NewVaultProvider(config.VaultConfig{})
	assert.ErrorIs(t, err, ErrProviderNotConfigured)
}

func TestVaultProvider_GetSecret(t *testing.T) {
	t.Parallel()

	srv := newFakeVault(t, map[string]any{
		KeyRedisPassword: "hunter2",
		"port":           6379,
	})
	p := newTestProvider(t, srv.URL, testToken)

	secret, err := p.GetSecret(context.Background(), "/edgegw/")
	require.NoError(t, err)

	v, ok := secret.GetString(KeyRedisPassword)
	assert.True(t, ok)
	assert.Equal(t, "hunter2", v)

	port, ok := secret.GetString("port")
	assert.True(t, ok)
	assert.Equal(t, "6379", port)
	assert.Equal(t, 3, secret.Version)
}

func TestVaultProvider_GetSecret_NotFound(t *testing.T) {
	t.Parallel()

	srv := newFakeVault(t, nil)
	p := newTestProvider(t, srv.URL, testToken)

	_, err := p.GetSecret(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestVaultProvider_GetSecret_Denied(t *testing.T) {
	t.Parallel()

	srv := newFakeVault(t, map[string]any{"k": "v"})
	p := newTestProvider(t, srv.URL, "wrong")

	_, err := p.GetSecret(context.Background(), "edgegw")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestVaultProvider_HealthCheck(t *testing.T) {
	t.Parallel()

	srv := newFakeVault(t, nil)
	p := newTestProvider(t, srv.URL, testToken)

	assert.NoError(t, p.HealthCheck(context.Background()))
}

func TestApply(t *testing.T) {
	t.Parallel()

	srv := newFakeVault(t, map[string]any{
		KeyRedisPassword: "from-vault",
		KeyUserStoreDSN:  "postgres://gw@db/users",
	})
	p := newTestProvider(t, srv.URL, testToken)

	cfg := config.DefaultConfig()
	cfg.Redis.Password = "from-file"

	require.NoError(t, Apply(context.Background(), p, "edgegw", cfg))
	assert.Equal(t, "from-vault", cfg.Redis.Password)
	assert.Equal(t, "postgres://gw@db/users", cfg.UserStore.DSN)
}

func TestApply_PartialSecret(t *testing.T) {
	t.Parallel()

	srv := newFakeVault(t, map[string]any{KeyUserStoreDSN: "file:users.db"})
	p := newTestProvider(t, srv.URL, testToken)

	cfg := config.DefaultConfig()
	cfg.Redis.Password = "keep-me"

	require.NoError(t, Apply(context.Background(), p, "edgegw", cfg))
	assert.Equal(t, "keep-me", cfg.Redis.Password)
	assert.Equal(t, "file:users.db", cfg.UserStore.DSN)
}

func TestSecret_GetString_Nil(t *testing.T) {
	t.Parallel()

	var s *Secret
	_, ok := s.GetString("x")
	assert.False(t, ok)
}
