package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/edgegw/internal/auth"
	"github.com/vyrodovalexey/edgegw/internal/broker"
	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/route"
)

type call struct {
	channel string
	cmd     string
	data    map[string]any
}

// fakeRequester records calls and answers with fn.
type fakeRequester struct {
	mu    sync.Mutex
	calls []call
	fn    func(ctx context.Context, cmd string) (json.RawMessage, error)
}

func (f *fakeRequester) Request(ctx context.Context, channel, cmd string, data map[string]any) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{channel: channel, cmd: cmd, data: data})
	f.mu.Unlock()
	if f.fn == nil {
		return json.RawMessage(`{"ok":true}`), nil
	}
	return f.fn(ctx, cmd)
}

func (f *fakeRequester) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

var speaker = &auth.Identity{UserID: "u1", Role: auth.RoleSpeaker, RawToken: "abc123", Email: "u1@example.com"}

func newTable(t *testing.T) *route.Table {
	t.Helper()
	table, err := route.NewTable([]config.RouteConfig{
		{Name: "create-session", Method: "POST", Path: "/sessions", Channel: "sessions", Roles: []string{"SPEAKER"}},
		{Name: "get-session", Method: "GET", Path: "/sessions/:sessionId", Channel: "sessions", Timeout: config.Duration(50 * time.Millisecond)},
		{Name: "register", Method: "POST", Path: "/auth/register", Channel: "auth", Public: true},
	}, &config.BrokerConfig{RequestTimeout: config.Duration(time.Second)})
	require.NoError(t, err)
	return table
}

func lookup(t *testing.T, table *route.Table, name string) *route.Descriptor {
	t.Helper()
	d, ok := table.Lookup(name)
	require.True(t, ok)
	return d
}

func TestBuildEnvelope(t *testing.T) {
	t.Parallel()

	body := map[string]any{
		"title":     "Go at the edge",
		"userId":    "spoofed",
		"role":      "ADMIN",
		"sessionId": "from-body",
	}
	params := map[string]string{"sessionId": "s1", "rawToken": "param-token"}

	env := BuildEnvelope("create-session", "sessions", speaker, body, params)

	assert.Equal(t, "create-session", env.Cmd)
	assert.Equal(t, "sessions", env.Channel)
	assert.Equal(t, map[string]any{
		"title":     "Go at the edge",
		"sessionId": "s1",
		"userId":    "u1",
		"role":      "SPEAKER",
		"rawToken":  "abc123",
	}, env.Payload)
	assert.Equal(t, "spoofed", body["userId"], "body is not modified")
}

func TestBuildEnvelope_Public(t *testing.T) {
	t.Parallel()

	env := BuildEnvelope("register", "auth", nil, map[string]any{"email": "a@example.com"}, nil)
	assert.Equal(t, map[string]any{"email": "a@example.com"}, env.Payload)

	env = BuildEnvelope("register", "auth", nil, nil, nil)
	assert.NotNil(t, env.Payload)
	assert.Empty(t, env.Payload)
}

func TestDispatch_AuthorizedCall(t *testing.T) {
	t.Parallel()

	table := newTable(t)
	requester := &fakeRequester{}
	reg := prometheus.NewRegistry()
	metrics := NewMetricsWithRegisterer("test", reg)
	d := NewDispatcher(requester, table, nil, WithMetrics(metrics))

	resp, err := d.Dispatch(context.Background(), lookup(t, table, "create-session"), speaker,
		map[string]any{"title": "Go"}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(resp))

	calls := requester.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "sessions", calls[0].channel)
	assert.Equal(t, "create-session", calls[0].cmd)
	assert.Equal(t, map[string]any{"title": "Go", "userId": "u1", "role": "SPEAKER", "rawToken": "abc123"}, calls[0].data)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.requestsTotal.WithLabelValues("sessions", "create-session", resultOK)))
	assert.Equal(t, "disabled", d.BreakerState("sessions"))
}

func TestDispatch_Timeout(t *testing.T) {
	t.Parallel()

	table := newTable(t)
	requester := &fakeRequester{fn: func(ctx context.Context, _ string) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	d := NewDispatcher(requester, table, nil)

	start := time.Now()
	_, err := d.Dispatch(context.Background(), lookup(t, table, "get-session"), speaker, nil, map[string]string{"sessionId": "s1"})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second, "route timeout applies")
}

func TestDispatch_ErrorClassification(t *testing.T) {
	t.Parallel()

	remote := &broker.RemoteError{Status: 404, Message: "Session not found"}

	tests := []struct {
		name       string
		err        error
		wantRemote bool
	}{
		{"remote error passes through", remote, true},
		{"broker down", broker.ErrUnavailable, false},
		{"broker closed", broker.ErrClosed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			table := newTable(t)
			d := NewDispatcher(&fakeRequester{fn: func(context.Context, string) (json.RawMessage, error) {
				return nil, tt.err
			}}, table, nil)

			_, err := d.Dispatch(context.Background(), lookup(t, table, "create-session"), speaker, nil, nil)
			if tt.wantRemote {
				var got *broker.RemoteError
				require.True(t, errors.As(err, &got))
				assert.Same(t, remote, got)
				assert.NotErrorIs(t, err, ErrUpstreamUnavailable)
				return
			}
			assert.ErrorIs(t, err, ErrUpstreamUnavailable)
			assert.ErrorIs(t, err, tt.err)
			assert.NotErrorIs(t, err, context.DeadlineExceeded)
		})
	}
}

func TestDispatch_CircuitBreaker(t *testing.T) {
	t.Parallel()

	table := newTable(t)
	failing := true
	var mu sync.Mutex
	requester := &fakeRequester{fn: func(_ context.Context, cmd string) (json.RawMessage, error) {
		mu.Lock()
		defer mu.Unlock()
		if cmd == "register" {
			return json.RawMessage(`{}`), nil
		}
		if failing {
			return nil, broker.ErrUnavailable
		}
		return json.RawMessage(`{}`), nil
	}}
	reg := prometheus.NewRegistry()
	metrics := NewMetricsWithRegisterer("test", reg)
	d := NewDispatcher(requester, table, &config.CircuitBreakerConfig{
		Enabled:   true,
		Threshold: 3,
		Timeout:   config.Duration(100 * time.Millisecond),
	}, WithMetrics(metrics))

	desc := lookup(t, table, "create-session")
	for range 3 {
		_, err := d.Dispatch(context.Background(), desc, speaker, nil, nil)
		require.ErrorIs(t, err, broker.ErrUnavailable)
	}
	assert.Equal(t, "open", d.BreakerState("sessions"))
	assert.Equal(t, "closed", d.BreakerState("auth"), "breakers are per channel")

	_, err := d.Dispatch(context.Background(), desc, speaker, nil, nil)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Len(t, requester.recorded(), 3, "open breaker rejects without calling the broker")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.requestsTotal.WithLabelValues("sessions", "create-session", resultCircuitOpen)))

	_, err = d.Dispatch(context.Background(), lookup(t, table, "register"), nil, nil, nil)
	assert.NoError(t, err)

	mu.Lock()
	failing = false
	mu.Unlock()

	assert.Eventually(t, func() bool {
		_, err := d.Dispatch(context.Background(), desc, speaker, nil, nil)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, "closed", d.BreakerState("sessions"))
}

func TestDispatch_RemoteErrorsDoNotTripBreaker(t *testing.T) {
	t.Parallel()

	table := newTable(t)
	d := NewDispatcher(&fakeRequester{fn: func(context.Context, string) (json.RawMessage, error) {
		return nil, &broker.RemoteError{Status: 400, Message: "bad"}
	}}, table, &config.CircuitBreakerConfig{Enabled: true, Threshold: 2, Timeout: config.Duration(time.Minute)})

	desc := lookup(t, table, "create-session")
	for range 10 {
		_, err := d.Dispatch(context.Background(), desc, speaker, nil, nil)
		var remote *broker.RemoteError
		require.True(t, errors.As(err, &remote))
	}
	assert.Equal(t, "closed", d.BreakerState("sessions"))
}
