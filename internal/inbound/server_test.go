package inbound

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/edgegw/internal/auth"
	"github.com/vyrodovalexey/edgegw/internal/broker"
	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/gateway"
	"github.com/vyrodovalexey/edgegw/internal/route"
)

const (
	testQueue = "gateway_queue"
	replyList = "client_reply"
)

type handled struct {
	route string
	body  map[string]any
	attrs map[string]any
}

type fakeHandler struct {
	mu    sync.Mutex
	calls []handled
	fn    func(ctx context.Context, call *gateway.Call) (json.RawMessage, error)
}

// Handle records the call. Like the pipeline, the body is decoded after
// fn has had its chance to reject the caller.
func (f *fakeHandler) Handle(ctx context.Context, call *gateway.Call) (json.RawMessage, error) {
	rec := handled{route: call.Route.Name, attrs: call.Attrs}
	defer func() {
		f.mu.Lock()
		f.calls = append(f.calls, rec)
		f.mu.Unlock()
	}()

	if f.fn != nil {
		return f.fn(ctx, call)
	}
	body, err := call.Decode()
	if err != nil {
		return nil, err
	}
	rec.body = body
	return json.RawMessage(`{"ok":true}`), nil
}

func (f *fakeHandler) recorded() []handled {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]handled(nil), f.calls...)
}

func newTable(t *testing.T) *route.Table {
	t.Helper()
	table, err := route.NewTable([]config.RouteConfig{
		{Name: "create-session", Method: "POST", Path: "/sessions", Channel: "sessions", Roles: []string{"SPEAKER"}, Async: true},
		{Name: "join-session", Method: "POST", Path: "/sessions/join", Channel: "sessions"},
	}, &config.BrokerConfig{RequestTimeout: config.Duration(time.Second)})
	require.NoError(t, err)
	return table
}

func newRedis(t *testing.T, mr *miniredis.Miniredis) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func startServer(t *testing.T, mr *miniredis.Miniredis, handler Handler, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{
		WithBlockTimeout(time.Second),
		WithReconnect(config.ReconnectConfig{
			InitialBackoff: config.Duration(10 * time.Millisecond),
			MaxBackoff:     config.Duration(50 * time.Millisecond),
		}),
	}, opts...)
	s := NewServer(newRedis(t, mr), config.InboundConfig{Queue: testQueue, Workers: 4}, newTable(t), handler, opts...)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

func push(t *testing.T, rdb *redis.Client, msg any) {
	t.Helper()
	raw, ok := msg.(string)
	if !ok {
		b, err := json.Marshal(msg)
		require.NoError(t, err)
		raw = string(b)
	}
	require.NoError(t, rdb.LPush(context.Background(), testQueue, raw).Err())
}

func awaitReply(t *testing.T, rdb *redis.Client) broker.Reply {
	t.Helper()
	res, err := rdb.BRPop(context.Background(), 3*time.Second, replyList).Result()
	require.NoError(t, err)

	var reply broker.Reply
	require.NoError(t, json.Unmarshal([]byte(res[1]), &reply))
	return reply
}

func replyErr(t *testing.T, reply broker.Reply) ReplyError {
	t.Helper()
	var e ReplyError
	require.NoError(t, json.Unmarshal(reply.Err, &e))
	return e
}

func TestServer_Success(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	handler := &fakeHandler{}
	reg := prometheus.NewRegistry()
	metrics := NewMetricsWithRegisterer("test", reg)
	startServer(t, mr, handler, WithMetrics(metrics))
	client := newRedis(t, mr)

	push(t, client, Message{
		ID:      "m1",
		Cmd:     "create-session",
		Data:    json.RawMessage(`{"token":"abc123","title":"Go","capacity":10}`),
		ReplyTo: replyList,
	})

	reply := awaitReply(t, client)
	assert.Equal(t, "m1", reply.ID)
	assert.JSONEq(t, `{"ok":true}`, string(reply.Response))
	assert.Empty(t, reply.Err)
	assert.True(t, reply.IsDisposed)

	calls := handler.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "create-session", calls[0].route)
	assert.Equal(t, map[string]any{"title": "Go", "capacity": json.Number("10")}, calls[0].body,
		"the credential is not part of the forwarded body")
	assert.Equal(t, map[string]any{"title": "Go"}, calls[0].attrs, "only non-credential strings")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.messagesTotal.WithLabelValues("create-session", resultOK, "200")))
}

func TestServer_ErrorReplies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		msg        Message
		fn         func(context.Context, *gateway.Call) (json.RawMessage, error)
		wantStatus int
		wantMsg    string
		wantCalled bool
	}{
		{
			name:       "unknown command",
			msg:        Message{ID: "m1", Cmd: "drop-tables"},
			wantStatus: 404,
			wantMsg:    gateway.MsgUnknownCommand,
		},
		{
			name:       "http only route",
			msg:        Message{ID: "m1", Cmd: "join-session"},
			wantStatus: 404,
			wantMsg:    gateway.MsgUnknownCommand,
		},
		{
			name:       "data not an object",
			msg:        Message{ID: "m1", Cmd: "create-session", Data: json.RawMessage(`[1]`)},
			wantStatus: 400,
			wantMsg:    "body must be a JSON object",
			wantCalled: true,
		},
		{
			name: "unauthenticated",
			msg:  Message{ID: "m1", Cmd: "create-session", Data: json.RawMessage(`{}`)},
			fn: func(context.Context, *gateway.Call) (json.RawMessage, error) {
				return nil, &auth.Error{Reason: auth.ReasonMissingCredential, Cause: auth.ErrMissingCredential}
			},
			wantStatus: 401,
			wantMsg:    gateway.MsgUnauthenticated,
			wantCalled: true,
		},
		{
			name: "remote error",
			msg:  Message{ID: "m1", Cmd: "create-session"},
			fn: func(context.Context, *gateway.Call) (json.RawMessage, error) {
				return nil, &broker.RemoteError{Status: 409, Message: "duplicate"}
			},
			wantStatus: 409,
			wantMsg:    "duplicate",
			wantCalled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mr := miniredis.RunT(t)
			handler := &fakeHandler{fn: tt.fn}
			startServer(t, mr, handler)
			client := newRedis(t, mr)

			tt.msg.ReplyTo = replyList
			push(t, client, tt.msg)

			reply := awaitReply(t, client)
			assert.Equal(t, "m1", reply.ID)
			assert.Empty(t, reply.Response)
			e := replyErr(t, reply)
			assert.Equal(t, tt.wantStatus, e.Status)
			assert.Equal(t, tt.wantMsg, e.Message)
			assert.Equal(t, tt.wantCalled, len(handler.recorded()) == 1)
		})
	}
}

func TestServer_DropsMalformed(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	handler := &fakeHandler{}
	reg := prometheus.NewRegistry()
	metrics := NewMetricsWithRegisterer("test", reg)
	startServer(t, mr, handler, WithMetrics(metrics))
	client := newRedis(t, mr)

	push(t, client, "not json")
	push(t, client, `{"cmd":"create-session","replyTo":"client_reply"}`)
	push(t, client, Message{ID: "m2", Cmd: "create-session", ReplyTo: replyList})

	reply := awaitReply(t, client)
	assert.Equal(t, "m2", reply.ID, "only the well-formed message is answered")
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.dropped.WithLabelValues(dropMalformed)) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestServer_NoReplyQueue(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	handler := &fakeHandler{}
	startServer(t, mr, handler)
	client := newRedis(t, mr)

	push(t, client, Message{ID: "m1", Cmd: "create-session"})

	assert.Eventually(t, func() bool { return len(handler.recorded()) == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{}, keysExcept(mr, testQueue))
}

func keysExcept(mr *miniredis.Miniredis, skip string) []string {
	keys := []string{}
	for _, k := range mr.Keys() {
		if k != skip {
			keys = append(keys, k)
		}
	}
	return keys
}

func TestServer_ConcurrentMessages(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	release := make(chan struct{})
	var inFlight sync.WaitGroup
	inFlight.Add(3)
	handler := &fakeHandler{fn: func(context.Context, *gateway.Call) (json.RawMessage, error) {
		inFlight.Done()
		<-release
		return json.RawMessage(`1`), nil
	}}
	startServer(t, mr, handler)
	client := newRedis(t, mr)

	for _, id := range []string{"a", "b", "c"} {
		push(t, client, Message{ID: id, Cmd: "create-session", ReplyTo: replyList})
	}

	// All three are held by the handler at once, so the pool runs them in parallel.
	waited := make(chan struct{})
	go func() {
		inFlight.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(3 * time.Second):
		t.Fatal("messages were not processed concurrently")
	}
	close(release)

	ids := map[string]bool{}
	for range 3 {
		ids[awaitReply(t, client).ID] = true
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, ids)
}

func TestServer_StopWaitsForInFlight(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	started := make(chan struct{})
	handler := &fakeHandler{fn: func(context.Context, *gateway.Call) (json.RawMessage, error) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		return json.RawMessage(`"done"`), nil
	}}
	s := NewServer(newRedis(t, mr), config.InboundConfig{Queue: testQueue, Workers: 1}, newTable(t), handler,
		WithBlockTimeout(time.Second))
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	client := newRedis(t, mr)
	push(t, client, Message{ID: "m1", Cmd: "create-session", ReplyTo: replyList})
	<-started

	require.NoError(t, s.Stop(context.Background()))
	reply := awaitReply(t, client)
	assert.JSONEq(t, `"done"`, string(reply.Response))
	assert.NoError(t, s.Stop(context.Background()), "second stop is a no-op")
}

func TestServer_Reconnects(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	handler := &fakeHandler{}
	startServer(t, mr, handler)

	mr.Close()
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, mr.Restart())

	client := newRedis(t, mr)
	push(t, client, Message{ID: "after-restart", Cmd: "create-session", ReplyTo: replyList})
	assert.Equal(t, "after-restart", awaitReply(t, client).ID)
}

func TestPredicateAttrs(t *testing.T) {
	t.Parallel()

	got := predicateAttrs(map[string]any{
		"token":     "secret",
		"user":      map[string]any{"userId": "u1"},
		"sessionId": "s1",
		"count":     json.Number("3"),
	})
	assert.Equal(t, map[string]any{"sessionId": "s1"}, got)
}

func TestReplies(t *testing.T) {
	t.Parallel()

	ok := successReply("m1", nil)
	assert.JSONEq(t, `null`, string(ok.Response))

	failed := errorReply("m1", 403, "access denied")
	raw, err := json.Marshal(failed)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"m1","err":{"status":403,"message":"access denied"},"isDisposed":true}`, string(raw))

	remote := broker.ParseRemoteError(failed.Err)
	assert.Equal(t, &broker.RemoteError{Status: 403, Message: "access denied"}, remote)
}
