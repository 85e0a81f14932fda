// Package inbound consumes commands that clients push onto the gateway's
// own Redis queue and answers on the queue each message names.
//
// Every message goes through the same guard chain as HTTP requests, with
// the credential read from data.token.
package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/edgegw/internal/auth"
	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/gateway"
	"github.com/vyrodovalexey/edgegw/internal/observability"
	"github.com/vyrodovalexey/edgegw/internal/retry"
	"github.com/vyrodovalexey/edgegw/internal/route"
)

// unknownCommand is the metric label for commands outside the table.
const unknownCommand = "unknown"

// Handler runs one call through the guard chain.
type Handler interface {
	Handle(ctx context.Context, call *gateway.Call) (json.RawMessage, error)
}

// Server is a bounded pool of workers fed by one BRPOP loop.
type Server struct {
	rdb          *redis.Client
	queue        string
	workers      int
	blockTimeout time.Duration
	backoff      *retry.Config
	table        *route.Table
	handler      Handler
	logger       observability.Logger
	metrics      *Metrics

	jobs       chan string
	stopFetch  context.CancelFunc
	cancelWork context.CancelFunc
	fetchWG    sync.WaitGroup
	workWG     sync.WaitGroup
	started    atomic.Bool
}

// Option is a functional option for the Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(s *Server) {
		s.metrics = metrics
	}
}

// WithBlockTimeout sets how long one BRPOP waits for a message.
func WithBlockTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.blockTimeout = d
		}
	}
}

// WithReconnect sets the backoff used while Redis is unreachable.
func WithReconnect(rc config.ReconnectConfig) Option {
	return func(s *Server) {
		s.backoff = &retry.Config{
			InitialBackoff: rc.InitialBackoff.Duration(),
			MaxBackoff:     rc.MaxBackoff.Duration(),
			JitterFactor:   retry.DefaultJitterFactor,
		}
	}
}

// NewServer creates a Server consuming cfg.Queue.
func NewServer(rdb *redis.Client, cfg config.InboundConfig, table *route.Table, handler Handler, opts ...Option) *Server {
	workers := cfg.Workers
	if workers <= 0 {
		workers = config.DefaultInboundWorkers
	}
	queue := cfg.Queue
	if queue == "" {
		queue = config.DefaultInboundQueue
	}

	s := &Server{
		rdb:          rdb,
		queue:        queue,
		workers:      workers,
		blockTimeout: config.DefaultBlockTimeout,
		backoff:      retry.DefaultConfig(),
		table:        table,
		handler:      handler,
		logger:       observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Queue returns the consumed list.
func (s *Server) Queue() string {
	return s.queue
}

// Start launches the fetch loop and the workers.
func (s *Server) Start(_ context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("inbound: already started")
	}

	workCtx, cancelWork := context.WithCancel(context.Background())
	fetchCtx, stopFetch := context.WithCancel(workCtx)
	s.cancelWork, s.stopFetch = cancelWork, stopFetch
	s.jobs = make(chan string)

	for range s.workers {
		s.workWG.Add(1)
		go s.work(workCtx)
	}
	s.fetchWG.Add(1)
	go s.fetch(fetchCtx)

	s.logger.Info("inbound consumer started",
		observability.String("queue", s.queue),
		observability.Int("workers", s.workers),
	)
	return nil
}

// Stop stops fetching and waits for in-flight messages until ctx ends.
// Messages still in flight when ctx ends are cancelled.
func (s *Server) Stop(ctx context.Context) error {
	if !s.started.CompareAndSwap(true, false) {
		return nil
	}

	s.logger.Info("stopping inbound consumer")
	s.stopFetch()
	s.fetchWG.Wait()

	done := make(chan struct{})
	go func() {
		s.workWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancelWork()
		return nil
	case <-ctx.Done():
		s.cancelWork()
		<-done
		return ctx.Err()
	}
}

func (s *Server) fetch(ctx context.Context) {
	defer s.fetchWG.Done()
	defer close(s.jobs)

	backoff := retry.NewBackoff(s.backoff)
	connected := true
	for ctx.Err() == nil {
		res, err := s.rdb.BRPop(ctx, s.blockTimeout, s.queue).Result()
		switch {
		case err == nil:
			connected = true
			backoff.Reset()
			select {
			case s.jobs <- res[1]:
			case <-ctx.Done():
				return
			}
		case errors.Is(err, redis.Nil):
			connected = true
			backoff.Reset()
		case ctx.Err() != nil:
			return
		default:
			if connected {
				s.logger.Warn("inbound queue unreachable", observability.Error(err))
			}
			connected = false
			if !backoff.Wait(ctx) {
				return
			}
		}
	}
}

func (s *Server) work(ctx context.Context) {
	defer s.workWG.Done()
	for raw := range s.jobs {
		s.process(ctx, raw)
	}
}

// process handles one raw message. Malformed messages are dropped since
// there is no id to answer with.
func (s *Server) process(ctx context.Context, raw string) {
	s.metrics.addInFlight(1)
	defer s.metrics.addInFlight(-1)

	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil || msg.ID == "" {
		s.logger.Warn("dropping malformed inbound message", observability.Int("bytes", len(raw)))
		s.metrics.recordDropped(dropMalformed)
		return
	}

	ctx = observability.ContextWithRequestID(ctx, msg.ID)
	start := time.Now()

	command := unknownCommand
	resp, err := s.dispatch(ctx, &msg, &command)
	status, message := gateway.StatusFor(err)

	log := s.logger.WithContext(ctx).With(
		observability.String("command", msg.Cmd),
		observability.Int("status", status),
		observability.Duration("duration", time.Since(start)),
	)

	reply := successReply(msg.ID, resp)
	result := resultOK
	if err != nil {
		result = resultError
		reply = errorReply(msg.ID, status, message)
		log = log.With(observability.Error(err))
	}
	s.metrics.recordMessage(command, result, strconv.Itoa(status), time.Since(start))

	if msg.ReplyTo == "" {
		log.Info("inbound message processed without reply queue")
		return
	}
	if err := s.reply(ctx, msg.ReplyTo, reply); err != nil {
		log.Warn("failed to send inbound reply", observability.String("reply_to", msg.ReplyTo),
			observability.String("reply_error", err.Error()))
		return
	}
	log.Info("inbound message processed")
}

func (s *Server) dispatch(ctx context.Context, msg *Message, command *string) (json.RawMessage, error) {
	d, err := s.table.ByCommand(msg.Cmd)
	if err != nil {
		return nil, err
	}
	*command = d.Command

	raw := msg.Data
	if string(raw) == "null" {
		raw = nil
	}
	// A data value that is not an object carries no credential; the decode
	// error is reported only once the guards have passed.
	data, decodeErr := route.DecodeObject(raw)
	carrier := auth.NewMessageCarrier(data)

	return s.handler.Handle(ctx, &gateway.Call{
		Route:   d,
		Carrier: carrier,
		Decode: func() (map[string]any, error) {
			if decodeErr != nil {
				return nil, decodeErr
			}
			return carrier.Payload(), nil
		},
		Attrs: predicateAttrs(data),
	})
}

func (s *Server) reply(ctx context.Context, queue string, reply any) error {
	raw, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	// The reply is sent even when shutdown has begun.
	return s.rdb.LPush(context.WithoutCancel(ctx), queue, raw).Err()
}
