package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/vyrodovalexey/edgegw/internal/broker"
	"github.com/vyrodovalexey/edgegw/internal/health"
	"github.com/vyrodovalexey/edgegw/internal/observability"
)

// runGateway starts the application and blocks until a shutdown signal.
func runGateway(ctx context.Context, app *application, logger observability.Logger) {
	if err := app.start(ctx); err != nil {
		_ = app.stop(context.Background(), logger)
		fatalWithSync(logger, "failed to start gateway", observability.Error(err))
		return
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	shutdown(app, logger)
}

// shutdown stops the application within the configured shutdown timeout.
func shutdown(app *application, logger observability.Logger) {
	logger.Info("received shutdown signal")

	ctx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := app.stop(ctx, logger); err != nil {
		logger.Error("failed to stop gateway gracefully", observability.Error(err))
	}
	logger.Info("gateway stopped")
}

// brokerCheck reports the broker client's reply listener connectivity.
func brokerCheck(c *broker.Client) health.CheckFunc {
	return func(context.Context) error {
		if !c.Connected() {
			return broker.ErrUnavailable
		}
		return nil
	}
}
