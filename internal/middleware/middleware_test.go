package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/observability"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestID(t *testing.T) {
	t.Parallel()

	var seen string
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) {
		seen = observability.RequestIDFromContext(c.Request.Context())
	})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	generated := w.Header().Get(RequestIDHeader)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, seen)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "client-id")
	w = serve(r, req)
	assert.Equal(t, "client-id", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "client-id", seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("x", maxRequestIDLength+1))
	w = serve(r, req)
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)
}

func TestRecovery(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.ErrorLevel)
	reg := prometheus.NewRegistry()
	metrics := NewMetricsWithRegisterer("test", reg)

	r := gin.New()
	r.Use(Recovery(observability.NewZapLogger(zap.New(core)), metrics))
	r.GET("/boom", func(*gin.Context) { panic("kaboom") })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var body ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "internal error", body.Message)
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.panicsRecovered))
}

func TestLoggingAndInstrument(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	metrics := observability.NewMetrics("test")

	r := gin.New()
	r.Use(RequestID(), Logging(observability.NewZapLogger(zap.New(core))), Instrument(metrics))
	r.GET("/sessions/:id", func(c *gin.Context) {
		SetRoute(c, "get-session")
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/sessions/42?token=secret", nil)
	serve(r, req)
	serve(r, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	entries := logs.FilterMessage("http request").AllUntimed()
	require.Len(t, entries, 2)
	fields := entries[0].ContextMap()
	assert.Equal(t, "get-session", fields["route"])
	assert.Equal(t, "/sessions/42", fields["path"])
	assert.EqualValues(t, 200, fields["status"])
	assert.NotEmpty(t, fields["request_id"])
	for _, v := range fields {
		if s, ok := v.(string); ok {
			assert.NotContains(t, s, "secret")
		}
	}
	assert.Equal(t, observability.UnmatchedRoute, entries[1].ContextMap()["route"])
}

func TestBodyLimit(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := NewMetricsWithRegisterer("test", reg)

	r := gin.New()
	r.Use(BodyLimit(8, metrics))
	r.POST("/", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			Abort(c, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		c.Status(http.StatusNoContent)
	})

	w := serve(r, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":"0123456789"}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.bodyLimitRejected))

	// Unknown length is enforced while reading.
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":"0123456789"}`))
	req.ContentLength = -1
	w = serve(r, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRateLimiter_Allow(t *testing.T) {
	t.Parallel()

	rl, err := NewRateLimiter(0.001, 2, WithMaxClients(2))
	require.NoError(t, err)

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"), "burst exhausted")
	assert.True(t, rl.Allow("10.0.0.2"), "clients are independent")

	rl.Allow("10.0.0.3")
	assert.Equal(t, 2, rl.Len(), "least recently seen client evicted")

	_, err = NewRateLimiter(0, 1)
	assert.Error(t, err)
}

func TestRateLimit_Middleware(t *testing.T) {
	t.Parallel()

	metrics := observability.NewMetrics("test")
	handler, err := RateLimitFromConfig(&config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 0.001,
		Burst:             1,
	}, observability.NopLogger(), metrics)
	require.NoError(t, err)
	require.NotNil(t, handler)

	r := gin.New()
	r.GET("/sessions", func(c *gin.Context) {
		SetRoute(c, "create-session")
		c.Next()
	}, handler, func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/sessions", nil)).Code)
	w := serve(r, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get(HeaderRetryAfter))

	disabled, err := RateLimitFromConfig(&config.RateLimitConfig{}, observability.NopLogger(), metrics)
	require.NoError(t, err)
	assert.Nil(t, disabled)
}

func TestRouteName_Default(t *testing.T) {
	t.Parallel()

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil).WithContext(context.Background())
	assert.Equal(t, observability.UnmatchedRoute, RouteName(c))
	SetRoute(c, "login")
	assert.Equal(t, "login", RouteName(c))
}
