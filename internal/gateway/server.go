package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/edgegw/internal/auth"
	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/health"
	"github.com/vyrodovalexey/edgegw/internal/middleware"
	"github.com/vyrodovalexey/edgegw/internal/observability"
	"github.com/vyrodovalexey/edgegw/internal/route"
)

// State represents the gateway state.
type State int32

const (
	// StateStopped indicates the gateway is stopped.
	StateStopped State = iota
	// StateStarting indicates the gateway is starting.
	StateStarting
	// StateRunning indicates the gateway is running.
	StateRunning
	// StateStopping indicates the gateway is stopping.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

const contentTypeJSON = "application/json; charset=utf-8"

// Gateway is the HTTP surface.
type Gateway struct {
	cfg         config.ServerConfig
	table       *route.Table
	pipeline    *Pipeline
	checker     *health.Checker
	metrics     *observability.Metrics
	metricsPath string
	mwMetrics   *middleware.Metrics
	logger      observability.Logger

	engine   *gin.Engine
	listener *Listener
	state    atomic.Int32
}

// Option is a functional option for configuring the gateway.
type Option func(*Gateway)

// WithLogger sets the logger for the gateway.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithMetrics enables request metrics and serves them on path.
func WithMetrics(metrics *observability.Metrics, path string) Option {
	return func(g *Gateway) {
		g.metrics = metrics
		g.metricsPath = path
	}
}

// WithMiddlewareMetrics sets the middleware metrics.
func WithMiddlewareMetrics(m *middleware.Metrics) Option {
	return func(g *Gateway) {
		g.mwMetrics = m
	}
}

// WithHealthChecker sets the checker behind /health and /ready.
func WithHealthChecker(checker *health.Checker) Option {
	return func(g *Gateway) {
		g.checker = checker
	}
}

// New creates a Gateway serving every HTTP route of table through pipeline.
func New(cfg config.ServerConfig, table *route.Table, pipeline *Pipeline, opts ...Option) (*Gateway, error) {
	if table == nil || pipeline == nil {
		return nil, fmt.Errorf("gateway: route table and pipeline are required")
	}

	g := &Gateway{
		cfg:      cfg,
		table:    table,
		pipeline: pipeline,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.checker == nil {
		g.checker = health.NewChecker("")
	}

	if err := g.buildEngine(); err != nil {
		return nil, err
	}
	g.listener = NewListener(cfg, g.engine, g.logger)
	g.state.Store(int32(StateStopped))

	return g, nil
}

func (g *Gateway) buildEngine() (err error) {
	// gin panics on conflicting paths.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("gateway: register routes: %v", r)
		}
	}()

	engine := gin.New()
	if err := engine.SetTrustedProxies(nil); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	engine.Use(
		middleware.Recovery(g.logger, g.mwMetrics),
		middleware.RequestID(),
		middleware.Logging(g.logger),
	)
	if g.metrics != nil {
		engine.Use(middleware.Instrument(g.metrics))
		engine.GET(g.metricsPath, gin.WrapH(g.metrics.Handler()))
	}

	engine.GET("/health", g.checker.HealthHandler())
	engine.GET("/ready", g.checker.ReadinessHandler())

	rateLimit, err := middleware.RateLimitFromConfig(g.cfg.RateLimit, g.logger, g.metrics)
	if err != nil {
		return err
	}

	for _, d := range g.table.Descriptors() {
		if !d.HTTP() {
			continue
		}
		chain := []gin.HandlerFunc{nameRoute(d.Name)}
		if rateLimit != nil {
			chain = append(chain, rateLimit)
		}
		chain = append(chain, middleware.BodyLimit(g.cfg.MaxBodyBytes, g.mwMetrics), g.handle(d))
		engine.Handle(d.Method, d.Path, chain...)
	}

	engine.NoRoute(func(c *gin.Context) {
		middleware.Abort(c, http.StatusNotFound, "route not found")
	})

	g.engine = engine
	return nil
}

func nameRoute(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		middleware.SetRoute(c, name)
	}
}

// handle serves one route. POST answers 201 and every other method 200,
// with the backend reply as the body.
func (g *Gateway) handle(d *route.Descriptor) gin.HandlerFunc {
	return func(c *gin.Context) {
		params := make(map[string]string, len(c.Params))
		attrs := make(map[string]any, len(c.Params))
		for _, p := range c.Params {
			params[p.Key] = p.Value
			attrs[p.Key] = p.Value
		}

		resp, err := g.pipeline.Handle(c.Request.Context(), &Call{
			Route:   d,
			Carrier: auth.NewHTTPCarrier(c),
			Decode:  func() (map[string]any, error) { return route.DecodeBody(c.Request.Body) },
			Params:  params,
			Attrs:   attrs,
		})
		if err != nil {
			g.fail(c, err)
			return
		}

		status := http.StatusOK
		if c.Request.Method == http.MethodPost {
			status = http.StatusCreated
		}
		if len(resp) == 0 {
			resp = []byte("null")
		}
		c.Data(status, contentTypeJSON, resp)
	}
}

func (g *Gateway) fail(c *gin.Context, err error) {
	status, message := StatusFor(err)
	if status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", `Bearer realm="edgegw"`)
	}
	// Logged once by the access log middleware.
	_ = c.Error(err)
	middleware.Abort(c, status, message)
}

// Engine returns the gin engine.
func (g *Gateway) Engine() *gin.Engine {
	return g.engine
}

// Addr returns the bound address once started.
func (g *Gateway) Addr() string {
	return g.listener.Addr()
}

// State returns the current state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

// Start starts serving.
func (g *Gateway) Start(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return fmt.Errorf("gateway is not in stopped state")
	}

	if err := g.listener.Start(ctx); err != nil {
		g.state.Store(int32(StateStopped))
		return err
	}

	g.state.Store(int32(StateRunning))
	g.logger.Info("gateway started",
		observability.String("address", g.Addr()),
		observability.Int("routes", g.table.Len()),
	)
	return nil
}

// Stop drains in-flight requests within the configured shutdown timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return fmt.Errorf("gateway is not running")
	}

	if timeout := g.cfg.ShutdownTimeout.Duration(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := g.listener.Stop(ctx)
	g.state.Store(int32(StateStopped))
	g.logger.Info("gateway stopped")
	return err
}
