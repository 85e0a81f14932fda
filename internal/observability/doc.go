// Package observability provides logging, metrics, and tracing for the
// edge gateway.
//
// Logging is structured and backed by zap. Components receive a Logger
// through functional options and fall back to NopLogger when none is given:
//
//	logger, err := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer func() { _ = logger.Sync() }()
//
//	logger.Info("command dispatched",
//	    observability.String("channel", "sessions"),
//	    observability.String("command", "create-session"),
//	)
//
// # Metrics
//
// Metrics owns a private Prometheus registry. Component metric sets are
// registered on it so that a single /metrics endpoint exposes everything:
//
//	metrics := observability.NewMetrics("edgegw")
//	engine.GET("/metrics", gin.WrapH(metrics.Handler()))
//
// # Tracing
//
// Tracer configures the global OpenTelemetry tracer provider with an OTLP
// gRPC exporter. When tracing is disabled the global no-op provider is used
// and spans cost nothing.
package observability
