// Package observability provides structured logging, Prometheus metrics, health
// checks and OpenTelemetry tracing for tally.
//
// # Structured Logging
//
// Logs are JSON lines written through logrus:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("entity_type", "receipt").Info("soft-deleted")
//
// # Prometheus Metrics
//
// Metrics are registered on an explicit registry and every recorder is a
// no-op on a nil *Metrics:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordPurged(12)
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version).
//		Register("database", true, observability.DatabaseProbe(sqlDB)).
//		Register("redis", false, observability.RedisProbe(redisClient))
//	observability.RegisterHealthRoutes(router, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "tally",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
