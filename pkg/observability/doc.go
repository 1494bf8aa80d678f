// Package observability provides structured logging, Prometheus metrics, health
// checks and OpenTelemetry setup for passportd.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, nil)
//	logger.WithField("batch_id", id).Info("batch published")
//
// Request-scoped logging picks up request, user and organization fields:
//
//	observability.FromContext(r.Context()).Warn("access denied")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	observability.RegisterMetricsEndpoint(healthMux, registry)
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient).WithMetrics(metrics)
//	observability.RegisterHealthRoutes(healthMux, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "passportd",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
