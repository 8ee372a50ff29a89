// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown.
//
// # Logging
//
//	logger, err := observability.NewLogger("info", observability.FormatJSON, os.Stdout)
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).Info("Collected")
//
// FromContext attaches the request ID, caller and trace identifiers found
// in the context.
//
// # Metrics
//
// Metrics implements billing.Metrics and serves as the host's authorization
// decision observer:
//
//	m := observability.NewMetrics(registry)
//	engine := billing.NewEngine(l, debiter, billing.WithMetrics(m))
//	rt := host.NewRuntime(bank, host.WithDecisionObserver(m.ObserveDecision))
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version, observability.WithDatabase(db))
//	observability.RegisterHealthRoutes(router, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
