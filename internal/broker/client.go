// Package broker sends commands to backend queues and awaits their replies.
//
// Requests are JSON messages pushed onto Redis lists. Each gateway
// instance owns one reply list, drained by a single listener goroutine
// that routes replies to waiting callers by correlation id.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/observability"
	"github.com/vyrodovalexey/edgegw/internal/retry"
)

var tracer = otel.Tracer("edgegw/broker")

// Requester sends one command and waits for its reply.
type Requester interface {
	Request(ctx context.Context, channel, cmd string, data map[string]any) (json.RawMessage, error)
}

// Client is a Requester over Redis lists.
type Client struct {
	rdb          *redis.Client
	cfg          config.BrokerConfig
	replyQueue   string
	blockTimeout time.Duration
	backoff      *retry.Config
	logger       observability.Logger
	metrics      *Metrics

	mu      sync.Mutex
	pending map[string]chan *Reply
	closed  bool

	connected atomic.Bool
	started   atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
}

var _ Requester = (*Client)(nil)

// Option is a functional option for the Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(c *Client) {
		c.metrics = metrics
	}
}

// NewClient creates a Client. The reply queue defaults to a unique
// per-process list.
func NewClient(rdb *redis.Client, cfg config.BrokerConfig, opts ...Option) *Client {
	replyQueue := cfg.ReplyQueue
	if replyQueue == "" {
		replyQueue = "edgegw_reply_" + uuid.NewString()
	}
	blockTimeout := cfg.BlockTimeout.Duration()
	if blockTimeout <= 0 {
		blockTimeout = config.DefaultBlockTimeout
	}

	c := &Client{
		rdb:          rdb,
		cfg:          cfg,
		replyQueue:   replyQueue,
		blockTimeout: blockTimeout,
		backoff: &retry.Config{
			InitialBackoff: cfg.Reconnect.InitialBackoff.Duration(),
			MaxBackoff:     cfg.Reconnect.MaxBackoff.Duration(),
			JitterFactor:   retry.DefaultJitterFactor,
		},
		logger:  observability.NopLogger(),
		pending: make(map[string]chan *Reply),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ReplyQueue returns the list this client receives replies on.
func (c *Client) ReplyQueue() string {
	return c.replyQueue
}

// Connected reports whether the last Redis operation of the listener
// succeeded.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Start checks the connection and launches the reply listener. A failed
// check is logged and the listener keeps reconnecting in the background.
func (c *Client) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("broker: already started")
	}

	if err := Ping(ctx, c.rdb, c.blockTimeout+time.Second); err != nil {
		c.logger.Warn("broker not reachable at startup, will retry", observability.Error(err))
	} else {
		c.setConnected(true)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.listen(listenCtx)

	c.logger.Info("broker client started", observability.String("reply_queue", c.replyQueue))
	return nil
}

// Close stops the listener and fails every pending request with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]chan *Reply)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}

	if c.started.Load() {
		c.cancel()
		<-c.done
	}
	c.setConnected(false)
	return nil
}

// Request pushes cmd onto the channel's queue and waits for the reply or
// for ctx to end. Remote application errors are returned as *RemoteError;
// transport failures wrap ErrUnavailable; an ended ctx returns ctx.Err().
func (c *Client) Request(ctx context.Context, channel, cmd string, data map[string]any) (json.RawMessage, error) {
	queue := c.cfg.QueueFor(channel)

	ctx, span := tracer.Start(ctx, "broker.Request")
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.destination.name", queue),
		attribute.String("edgegw.command", cmd),
	)

	start := time.Now()
	resp, err := c.request(ctx, queue, cmd, data)
	result := resultFor(err)
	c.metrics.recordRequest(channel, result, time.Since(start))
	if err != nil {
		span.SetStatus(codes.Error, result)
	}
	return resp, err
}

func (c *Client) request(ctx context.Context, queue, cmd string, data map[string]any) (json.RawMessage, error) {
	if !c.connected.Load() {
		return nil, fmt.Errorf("%w: not connected", ErrUnavailable)
	}

	id := uuid.NewString()
	body, err := json.Marshal(Request{
		ID:      id,
		Pattern: Pattern{Cmd: cmd},
		Data:    data,
		ReplyTo: c.replyQueue,
	})
	if err != nil {
		return nil, fmt.Errorf("broker: encode request: %w", err)
	}

	ch, err := c.register(id)
	if err != nil {
		return nil, err
	}

	if err := c.rdb.LPush(ctx, queue, body).Err(); err != nil {
		c.unregister(id)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		return reply.Result()
	case <-ctx.Done():
		c.unregister(id)
		return nil, ctx.Err()
	}
}

func (c *Client) register(id string) (chan *Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	ch := make(chan *Reply, 1)
	c.pending[id] = ch
	c.metrics.setPending(len(c.pending))
	return ch, nil
}

func (c *Client) unregister(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.metrics.setPending(len(c.pending))
	c.mu.Unlock()
}

// deliver hands reply to its waiter. It reports false when nobody waits.
func (c *Client) deliver(reply *Reply) bool {
	c.mu.Lock()
	ch, ok := c.pending[reply.ID]
	if ok {
		delete(c.pending, reply.ID)
		c.metrics.setPending(len(c.pending))
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	ch <- reply
	return true
}

// Pending returns the number of requests awaiting a reply.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Client) listen(ctx context.Context) {
	defer close(c.done)

	backoff := retry.NewBackoff(c.backoff)
	for ctx.Err() == nil {
		res, err := c.rdb.BRPop(ctx, c.blockTimeout, c.replyQueue).Result()
		switch {
		case err == nil:
			c.setConnected(true)
			backoff.Reset()
			c.handle(res[1])
		case errors.Is(err, redis.Nil):
			c.setConnected(true)
			backoff.Reset()
		case ctx.Err() != nil:
			return
		default:
			if c.connected.Load() {
				c.logger.Warn("broker connection lost", observability.Error(err))
			}
			c.setConnected(false)
			c.logger.Debug("reconnecting to broker", observability.Int("attempt", backoff.Attempt()+1))
			if !backoff.Wait(ctx) {
				return
			}
		}
	}
}

func (c *Client) handle(raw string) {
	var reply Reply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil || reply.ID == "" {
		c.logger.Warn("dropping malformed reply", observability.Int("bytes", len(raw)))
		c.metrics.recordDropped(dropMalformed)
		return
	}
	if !c.deliver(&reply) {
		c.logger.Debug("dropping late reply", observability.String("id", reply.ID))
		c.metrics.recordDropped(dropLate)
	}
}

func (c *Client) setConnected(v bool) {
	c.connected.Store(v)
	c.metrics.setConnected(v)
}

func resultFor(err error) string {
	var remote *RemoteError
	switch {
	case err == nil:
		return resultOK
	case errors.As(err, &remote):
		return resultRemoteError
	case errors.Is(err, context.DeadlineExceeded):
		return resultTimeout
	case errors.Is(err, context.Canceled):
		return resultCanceled
	default:
		return resultUnavailable
	}
}
