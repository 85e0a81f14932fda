package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/edgegw/internal/auth"
	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/route"
)

var (
	speaker  = &auth.Identity{UserID: "u1", Role: auth.RoleSpeaker, RawToken: "abc123", Email: "u1@example.com"}
	attendee = &auth.Identity{UserID: "u2", Role: auth.RoleAttendee, RawToken: "def456"}
)

func newTable(t *testing.T) *route.Table {
	t.Helper()

	table, err := route.NewTable([]config.RouteConfig{
		{Name: "register", Method: "POST", Path: "/auth/register", Channel: "auth", Public: true},
		{Name: "create-session", Method: "POST", Path: "/sessions", Channel: "sessions", Roles: []string{"SPEAKER"}},
		{Name: "attend-only", Method: "POST", Path: "/attend", Channel: "sessions", Roles: []string{"ATTENDEE"}},
		{Name: "join-session", Method: "POST", Path: "/sessions/join", Channel: "sessions", Roles: []string{"SPEAKER", "ATTENDEE"}},
		{Name: "anyone", Method: "GET", Path: "/anyone", Channel: "sessions"},
		{
			Name: "get-user-sessions", Method: "GET", Path: "/sessions/user/:userId", Channel: "sessions",
			Roles: []string{"SPEAKER", "ATTENDEE"}, Predicates: []string{"params.userId == identity.userId"},
		},
		{
			Name: "speaker-command", Method: "GET", Path: "/cmd", Channel: "sessions",
			Predicates: []string{"command == 'speaker-command'", "identity.role == 'SPEAKER'"},
		},
	}, nil)
	require.NoError(t, err)
	return table
}

func lookup(t *testing.T, table *route.Table, name string) *route.Descriptor {
	t.Helper()
	d, ok := table.Lookup(name)
	require.True(t, ok, name)
	return d
}

func TestAuthorize(t *testing.T) {
	t.Parallel()

	table := newTable(t)
	a, err := NewAuthorizer(table)
	require.NoError(t, err)

	tests := []struct {
		name     string
		identity *auth.Identity
		route    string
		params   map[string]any
		allowed  bool
	}{
		{"speaker on speaker route", speaker, "create-session", nil, true},
		{"attendee on speaker route", attendee, "create-session", nil, false},
		{"speaker on attendee route", speaker, "attend-only", nil, false},
		{"attendee on shared route", attendee, "join-session", nil, true},
		{"empty role set admits attendee", attendee, "anyone", nil, true},
		{"public route without identity", nil, "register", nil, true},
		{"no identity on protected route", nil, "anyone", nil, false},
		{"owner passes predicate", speaker, "get-user-sessions", map[string]any{"userId": "u1"}, true},
		{"other user fails predicate", speaker, "get-user-sessions", map[string]any{"userId": "u2"}, false},
		{"missing param fails closed", speaker, "get-user-sessions", nil, false},
		{"all predicates hold", speaker, "speaker-command", nil, true},
		{"second predicate fails", attendee, "speaker-command", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			decision, err := a.Authorize(context.Background(), tt.identity, lookup(t, table, tt.route), tt.params)
			require.NotNil(t, decision)
			assert.Equal(t, tt.allowed, decision.Allowed)
			assert.Equal(t, tt.route, decision.Route)
			assert.NotEmpty(t, decision.Reason)

			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrForbidden)
			var denied *DeniedError
			require.True(t, errors.As(err, &denied))
			assert.Equal(t, tt.route, denied.Route)
		})
	}
}

func TestAuthorize_Idempotent(t *testing.T) {
	t.Parallel()

	table := newTable(t)
	a, err := NewAuthorizer(table)
	require.NoError(t, err)

	d := lookup(t, table, "get-user-sessions")
	params := map[string]any{"userId": "u1"}

	first, err := a.Authorize(context.Background(), speaker, d, params)
	require.NoError(t, err)
	for range 10 {
		again, err := a.Authorize(context.Background(), speaker, d, params)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, map[string]any{"userId": "u1"}, params, "params are not modified")
}

func TestAuthorize_Metrics(t *testing.T) {
	t.Parallel()

	table := newTable(t)
	reg := prometheus.NewRegistry()
	metrics := NewMetricsWithRegisterer("test", reg)
	a, err := NewAuthorizer(table, WithMetrics(metrics))
	require.NoError(t, err)

	d := lookup(t, table, "create-session")
	_, _ = a.Authorize(context.Background(), speaker, d, nil)
	_, _ = a.Authorize(context.Background(), attendee, d, nil)
	_, _ = a.Authorize(context.Background(), attendee, d, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.decisionTotal.WithLabelValues("create-session", decisionAllowed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.decisionTotal.WithLabelValues("create-session", decisionDenied)))
}

func TestNewAuthorizer_BadPredicate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		expr string
	}{
		{"syntax", "params.userId =="},
		{"undeclared variable", "request.path == '/'"},
		{"not bool", "'a' + 'b'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			table, err := route.NewTable([]config.RouteConfig{
				{Name: "r", Method: "GET", Path: "/r", Channel: "c", Predicates: []string{tt.expr}},
			}, nil)
			require.NoError(t, err)

			_, err = NewAuthorizer(table)
			require.Error(t, err)
			assert.Contains(t, err.Error(), `route "r"`)
		})
	}
}
