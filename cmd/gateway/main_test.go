package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/observability"
)

func TestGetEnvOrDefault(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		envValue string
		setEnv   bool
		expected string
	}{
		{"returns default when env not set", "EDGEGW_TEST_NOTSET", "", false, "default-value"},
		{"returns env value when set", "EDGEGW_TEST_SET", "env-value", true, "env-value"},
		{"returns default when env is empty", "EDGEGW_TEST_EMPTY", "", true, "default-value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setEnv {
				t.Setenv(tt.key, tt.envValue)
			}
			assert.Equal(t, tt.expected, getEnvOrDefault(tt.key, "default-value"))
		})
	}
}

func TestParseFlags(t *testing.T) {
	t.Setenv("EDGEGW_CONFIG_PATH", "/etc/edgegw.yaml")
	t.Setenv("EDGEGW_LOG_LEVEL", "debug")

	f := parseFlags(flag.NewFlagSet("test", flag.ContinueOnError), []string{"-log-format", "console"})
	assert.Equal(t, cliFlags{
		configPath: "/etc/edgegw.yaml",
		logLevel:   "debug",
		logFormat:  "console",
	}, f)

	f = parseFlags(flag.NewFlagSet("test", flag.ContinueOnError), []string{"-config", "x.yaml", "-version"})
	assert.Equal(t, "x.yaml", f.configPath)
	assert.True(t, f.showVersion)
}

func TestApplyVaultSecrets_Disabled(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Redis.Password = "from-file"
	require.NoError(t, applyVaultSecrets(context.Background(), cfg, observability.NopLogger()))
	assert.Equal(t, "from-file", cfg.Redis.Password)
}

func TestApplyVaultSecrets(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/secret/data/edgegw" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"data": map[string]any{"redisPassword": "s3cret", "userStoreDsn": "file::memory:"},
			},
		})
	}))
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.Vault = config.VaultConfig{Enabled: true, Address: srv.URL, Token: "t", Mount: "secret", Path: "edgegw"}

	require.NoError(t, applyVaultSecrets(context.Background(), cfg, observability.NopLogger()))
	assert.Equal(t, "s3cret", cfg.Redis.Password)
	assert.Equal(t, "file::memory:", cfg.UserStore.DSN)
}

func testConfig(t *testing.T, redisAddr string) *config.GatewayConfig {
	t.Helper()

	cfg := &config.GatewayConfig{
		Server:   config.ServerConfig{Address: "127.0.0.1:0"},
		Identity: config.IdentityConfig{ProjectID: "edgegw-test", JWKSURL: "http://127.0.0.1:1/jwks"},
		Redis:    config.RedisConfig{Address: redisAddr},
		Broker: config.BrokerConfig{
			Channels: map[string]string{"sessions": "sessions_queue"},
		},
		Inbound:       config.InboundConfig{Enabled: true},
		Observability: config.ObservabilityConfig{Metrics: config.MetricsConfig{Enabled: true}},
		Routes: []config.RouteConfig{
			{Name: "create-session", Method: "POST", Path: "/sessions", Channel: "sessions", Async: true},
		},
	}
	cfg.ApplyDefaults()
	require.NoError(t, config.ValidateConfig(cfg))
	return cfg
}

func TestApplication_Lifecycle(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr.Addr())
	logger := observability.NopLogger()

	app, err := newApplication(context.Background(), cfg, logger)
	require.NoError(t, err)
	require.NotNil(t, app.inbound)
	require.NoError(t, app.start(context.Background()))

	base := "http://" + app.gateway.Addr()

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Eventually(t, func() bool {
		resp, err := http.Get(base + "/ready")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Contains(t, string(body), "edgegw_http_requests_total")

	resp, err = http.Post(base+"/sessions", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, app.stop(ctx, logger))
}

func TestNewApplication_Errors(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	tests := []struct {
		name   string
		mutate func(*config.GatewayConfig)
	}{
		{"unsupported user store", func(c *config.GatewayConfig) { c.UserStore.Type = "ldap" }},
		{"bad predicate", func(c *config.GatewayConfig) { c.Routes[0].Predicates = []string{"identity.userId =="} }},
		{"duplicate route", func(c *config.GatewayConfig) { c.Routes = append(c.Routes, c.Routes[0]) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig(t, mr.Addr())
			tt.mutate(cfg)

			app, err := newApplication(context.Background(), cfg, observability.NopLogger())
			assert.Error(t, err)
			assert.Nil(t, app)
		})
	}
}

func TestNewApplication_StartupLogs(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr.Addr())
	cfg.Routes[0].Roles = []string{"SPEAKER"}
	cfg.Routes = append(cfg.Routes, config.RouteConfig{
		Name: "register", Method: "POST", Path: "/auth/register", Channel: "sessions", Public: true,
		Schema: map[string]any{"type": "object"},
	})

	core, logs := observer.New(zapcore.InfoLevel)
	logger := observability.NewZapLogger(zap.New(core))

	app, err := newApplication(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { app.close(logger) })

	warned := logs.FilterMessage("signing keys not available at startup, will fetch on first token").All()
	require.Len(t, warned, 1, "the key set URL is unreachable in tests")
	assert.Equal(t, "http://127.0.0.1:1/jwks", warned[0].ContextMap()["jwks_url"])

	routes := logs.FilterMessage("route registered").All()
	require.Len(t, routes, 2)

	first := routes[0].ContextMap()
	assert.Equal(t, "create-session", first["route"])
	assert.Equal(t, []any{"SPEAKER"}, first["roles"])
	assert.Equal(t, false, first["schema"])

	second := routes[1].ContextMap()
	assert.Equal(t, "register", second["route"])
	assert.Equal(t, true, second["public"])
	assert.Empty(t, second["roles"])
	assert.Equal(t, true, second["schema"])
}
