package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/edgegw/internal/auth"
	"github.com/vyrodovalexey/edgegw/internal/auth/idtoken"
	"github.com/vyrodovalexey/edgegw/internal/auth/userstore"
	"github.com/vyrodovalexey/edgegw/internal/authz"
	"github.com/vyrodovalexey/edgegw/internal/broker"
	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/dispatch"
	"github.com/vyrodovalexey/edgegw/internal/gateway"
	"github.com/vyrodovalexey/edgegw/internal/health"
	"github.com/vyrodovalexey/edgegw/internal/inbound"
	"github.com/vyrodovalexey/edgegw/internal/middleware"
	"github.com/vyrodovalexey/edgegw/internal/observability"
	"github.com/vyrodovalexey/edgegw/internal/route"
)

// keySetRefreshTimeout bounds the startup key set fetch.
const keySetRefreshTimeout = 5 * time.Second

// application holds all application components.
type application struct {
	config   *config.GatewayConfig
	gateway  *gateway.Gateway
	inbound  *inbound.Server
	broker   *broker.Client
	store    userstore.Store
	verifier *idtoken.Verifier
	redis    *redis.Client
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// newApplication builds every component from cfg. On error, whatever was
// already opened is closed.
func newApplication(ctx context.Context, cfg *config.GatewayConfig, logger observability.Logger) (app *application, err error) {
	gin.SetMode(gin.ReleaseMode)

	app = &application{config: cfg}
	defer func() {
		if err != nil {
			app.close(logger)
			app = nil
		}
	}()

	namespace := cfg.Observability.Metrics.Namespace
	app.metrics = observability.NewMetrics(namespace)
	app.metrics.SetBuildInfo(version, gitCommit, buildTime)
	registry := app.metrics.Registry()

	app.tracer, err = observability.NewTracer(observability.TracerConfig{
		ServiceName:  cfg.Observability.Tracing.ServiceName,
		OTLPEndpoint: cfg.Observability.Tracing.OTLPEndpoint,
		SamplingRate: cfg.Observability.Tracing.SamplingRate,
		Enabled:      cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		return app, fmt.Errorf("init tracer: %w", err)
	}

	app.redis = broker.NewRedisClient(cfg.Redis)

	app.store, err = userstore.New(ctx, cfg.UserStore, app.redis, userstore.WithLogger(logger))
	if err != nil {
		return app, fmt.Errorf("init user store: %w", err)
	}

	app.verifier, err = idtoken.NewVerifier(idtoken.ConfigFrom(cfg.Identity),
		idtoken.WithLogger(logger),
		idtoken.WithMetrics(idtoken.NewMetricsWithRegisterer(namespace, registry)),
	)
	if err != nil {
		return app, fmt.Errorf("init token verifier: %w", err)
	}
	refreshCtx, cancel := context.WithTimeout(ctx, keySetRefreshTimeout)
	if refreshErr := app.verifier.Refresh(refreshCtx); refreshErr != nil {
		logger.Warn("signing keys not available at startup, will fetch on first token",
			observability.String("jwks_url", cfg.Identity.JWKSURL),
			observability.Error(refreshErr),
		)
	}
	cancel()

	authenticator := auth.NewAuthenticator(app.verifier, app.store,
		auth.WithLogger(logger),
		auth.WithMetrics(auth.NewMetricsWithRegisterer(namespace, registry)),
	)

	table, err := route.NewTable(cfg.Routes, &cfg.Broker)
	if err != nil {
		return app, fmt.Errorf("build route table: %w", err)
	}
	logRoutes(logger, table)

	authorizer, err := authz.NewAuthorizer(table,
		authz.WithLogger(logger),
		authz.WithMetrics(authz.NewMetricsWithRegisterer(namespace, registry)),
	)
	if err != nil {
		return app, fmt.Errorf("build authorizer: %w", err)
	}

	app.broker = broker.NewClient(app.redis, cfg.Broker,
		broker.WithLogger(logger),
		broker.WithMetrics(broker.NewMetricsWithRegisterer(namespace, registry)),
	)

	dispatcher := dispatch.NewDispatcher(app.broker, table, cfg.Broker.CircuitBreaker,
		dispatch.WithLogger(logger),
		dispatch.WithMetrics(dispatch.NewMetricsWithRegisterer(namespace, registry)),
	)

	pipeline := gateway.NewPipeline(authenticator, authorizer, dispatcher)

	checker := health.NewChecker(version,
		health.WithLogger(logger),
		health.WithMetrics(health.NewMetricsWithRegisterer(namespace, registry)),
	)
	checker.RegisterCheck("redis", health.RedisCheck(app.redis))
	checker.RegisterCheck("userstore", health.PingCheck(app.store))
	checker.RegisterCheck("broker", brokerCheck(app.broker))

	opts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithHealthChecker(checker),
		gateway.WithMiddlewareMetrics(middleware.NewMetricsWithRegisterer(namespace, registry)),
	}
	if cfg.Observability.Metrics.Enabled {
		opts = append(opts, gateway.WithMetrics(app.metrics, cfg.Observability.Metrics.Path))
	}
	app.gateway, err = gateway.New(cfg.Server, table, pipeline, opts...)
	if err != nil {
		return app, fmt.Errorf("build gateway: %w", err)
	}

	if cfg.Inbound.Enabled {
		app.inbound = inbound.NewServer(app.redis, cfg.Inbound, table, pipeline,
			inbound.WithLogger(logger),
			inbound.WithMetrics(inbound.NewMetricsWithRegisterer(namespace, registry)),
			inbound.WithBlockTimeout(cfg.Broker.BlockTimeout.Duration()),
			inbound.WithReconnect(cfg.Broker.Reconnect),
		)
	}

	logger.Info("gateway components initialized",
		observability.Int("routes", table.Len()),
		observability.String("reply_queue", app.broker.ReplyQueue()),
	)
	return app, nil
}

// start starts the broker listener, the inbound consumer and the HTTP
// listener, in that order.
func (a *application) start(ctx context.Context) error {
	if err := a.broker.Start(ctx); err != nil {
		return fmt.Errorf("start broker client: %w", err)
	}
	if a.inbound != nil {
		if err := a.inbound.Start(ctx); err != nil {
			return fmt.Errorf("start inbound consumer: %w", err)
		}
	}
	if err := a.gateway.Start(ctx); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}
	return nil
}

// stop drains the HTTP listener and the inbound consumer before the
// broker client fails whatever is still pending.
func (a *application) stop(ctx context.Context, logger observability.Logger) error {
	var errs []error
	if a.gateway != nil {
		if err := a.gateway.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop gateway: %w", err))
		}
	}
	if a.inbound != nil {
		if err := a.inbound.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop inbound consumer: %w", err))
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
		}
	}
	a.close(logger)
	return errors.Join(errs...)
}

// close releases clients. It is safe on a partially built application.
func (a *application) close(logger observability.Logger) {
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			logger.Warn("failed to close broker client", observability.Error(err))
		}
	}
	if a.verifier != nil {
		_ = a.verifier.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warn("failed to close user store", observability.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

// logRoutes logs the guard configuration of every route at startup.
func logRoutes(logger observability.Logger, table *route.Table) {
	for _, d := range table.Descriptors() {
		roles := make([]string, 0, len(d.RequiredRoles))
		for _, r := range d.Roles() {
			roles = append(roles, r.String())
		}
		logger.Info("route registered",
			observability.String("route", d.Name),
			observability.String("method", d.Method),
			observability.String("path", d.Path),
			observability.String("channel", d.Channel),
			observability.Bool("public", d.Public),
			observability.Bool("async", d.Async),
			observability.Strings("roles", roles),
			observability.Int("predicates", len(d.Predicates)),
			observability.Bool("schema", d.HasSchema()),
		)
	}
}
