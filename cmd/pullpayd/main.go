package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/platinummonkey/pullpay/pkg/api"
	"github.com/platinummonkey/pullpay/pkg/audit"
	"github.com/platinummonkey/pullpay/pkg/auth"
	"github.com/platinummonkey/pullpay/pkg/authz"
	"github.com/platinummonkey/pullpay/pkg/billing"
	"github.com/platinummonkey/pullpay/pkg/collector"
	"github.com/platinummonkey/pullpay/pkg/config"
	"github.com/platinummonkey/pullpay/pkg/host"
	"github.com/platinummonkey/pullpay/pkg/observability"
	"github.com/platinummonkey/pullpay/pkg/plugins"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

var version = "dev"

func main() {
	envFile := flag.String("env-file", ".env", "Optional env file loaded before reading PULLPAY_* variables")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.LoadConfig(*envFile)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	if err != nil {
		logrus.Fatalf("Failed to create logger: %v", err)
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("pullpayd stopped")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: version,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	l, healthOpts, closeLedger, err := openLedger(ctx, cfg.Ledger, logger)
	if err != nil {
		return err
	}
	logger.WithField("driver", cfg.Ledger.Driver).Info("Ledger ready")

	bank := host.NewMemoryBank()
	for account, amount := range cfg.Bank.Seed {
		if err := bank.Deposit(account, amount); err != nil {
			return fmt.Errorf("failed to seed %s: %w", account, err)
		}
	}

	auditSinks := []audit.Logger{audit.NewLogrusLogger(logger.WithField("component", "audit"))}
	if cfg.Audit.Dir != "" {
		fileLog, err := audit.NewFileLogger(audit.FileLoggerConfig{
			BasePath: cfg.Audit.Dir,
			MaxSize:  cfg.Audit.MaxSize,
			MaxFiles: cfg.Audit.MaxFiles,
		})
		if err != nil {
			return err
		}
		auditSinks = append(auditSinks, fileLog)
	}
	auditLog := audit.NewMultiLogger(auditSinks...)

	var (
		metrics  *observability.Metrics
		gatherer prometheus.Gatherer
	)
	rtOpts := []host.Option{host.WithLogger(logger), host.WithAuditLogger(auditLog)}
	engineOpts := []billing.Option{billing.WithLogger(logger), billing.WithAuditLogger(auditLog)}
	collectorOpts := []collector.Option{
		collector.WithLogger(logger.WithField("component", "collector")),
		collector.WithConcurrency(cfg.Collector.Concurrency),
	}
	if cfg.Observability.MetricsEnabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = observability.NewMetrics(registry)
		gatherer = registry

		rtOpts = append(rtOpts, host.WithDecisionObserver(metrics.ObserveDecision))
		engineOpts = append(engineOpts, billing.WithMetrics(metrics))
		collectorOpts = append(collectorOpts, collector.WithMetrics(metrics))
	}

	validator, err := auth.NewValidator([]byte(cfg.Auth.JWTSecret),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithLogger(logger.WithField("component", "ownership-validator")),
		auth.WithCache(cfg.Auth.TokenCacheSize, cfg.Auth.TokenCacheTTL),
	)
	if err != nil {
		return err
	}

	rt := host.NewRuntime(bank, rtOpts...)
	engine := billing.NewEngine(l, rt.Executor(billing.PluginID), engineOpts...)
	if err := rt.Install(billing.NewPlugin(engine), []authz.Authorizer{validator}); err != nil {
		return fmt.Errorf("failed to install subscription plugin: %w", err)
	}

	if cfg.Plugin.ManifestPath != "" {
		watcher, err := plugins.NewManifestWatcher(cfg.Plugin.ManifestPath, func(m *plugins.Manifest) error {
			return rt.Rebind(billing.PluginID, m)
		}, logger)
		if err != nil {
			return err
		}
		if err := watcher.Reload(); err != nil {
			return fmt.Errorf("failed to apply manifest %s: %w", cfg.Plugin.ManifestPath, err)
		}
		go func() {
			defer observability.RecoverPanic(logger, "manifest watcher")
			if err := watcher.Run(ctx); err != nil {
				logger.WithError(err).Error("Manifest watcher stopped")
			}
		}()
	}

	rateLimit, closeRateLimit, err := newRateLimit(ctx, cfg.RateLimit, logger)
	if err != nil {
		return err
	}

	health := observability.NewHealthChecker(version, healthOpts...)
	handler := api.NewHandler(api.Config{
		Runtime:   rt,
		Engine:    engine,
		Logger:    logger,
		Metrics:   metrics,
		Gatherer:  gatherer,
		Health:    health,
		RateLimit: rateLimit,
	})
	server := api.NewServer(cfg.Server, handler)

	sm := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)

	if cfg.Collector.Enabled {
		local := collector.NewLocalClient(rt, engine, collector.IssuedTokens(validator, cfg.Collector.TokenTTL))
		c := collector.New(local, cfg.Collector.Payees, collectorOpts...)
		sched, err := c.Schedule(cfg.Collector.Schedule)
		if err != nil {
			return err
		}
		sched.Start()
		logger.WithFields(logrus.Fields{
			"schedule": cfg.Collector.Schedule,
			"payees":   cfg.Collector.Payees,
		}).Info("Collector scheduled")

		sm.RegisterShutdownFunc(func(ctx context.Context) error {
			select {
			case <-sched.Stop().Done():
				return nil
			case <-ctx.Done():
				return fmt.Errorf("collector still running: %w", ctx.Err())
			}
		})
	}

	sm.RegisterShutdownFunc(func(context.Context) error {
		cancel()
		return nil
	})
	sm.RegisterShutdownFunc(func(context.Context) error {
		return auditLog.Close()
	})
	sm.RegisterShutdownFunc(func(context.Context) error {
		return closeLedger()
	})
	sm.RegisterShutdownFunc(func(context.Context) error {
		return closeRateLimit()
	})
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", server.Addr).Info("Starting pullpay server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			cancel()
		}
	}()

	shutdownErr := sm.WaitForShutdown(ctx)
	select {
	case err := <-serveErr:
		return errors.Join(fmt.Errorf("server failed: %w", err), shutdownErr)
	default:
	}
	if shutdownErr != nil {
		return shutdownErr
	}

	logger.Info("pullpayd stopped")
	return nil
}
