package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/platinummonkey/pullpay/pkg/api"
	"github.com/platinummonkey/pullpay/pkg/collector"
	"github.com/platinummonkey/pullpay/pkg/config"
	"github.com/platinummonkey/pullpay/pkg/observability"
	"github.com/sirupsen/logrus"
)

func main() {
	envFile := flag.String("env-file", ".env", "Optional env file loaded before reading PULLPAY_* variables")
	once := flag.Bool("once", false, "Collect once, print the summary and exit")
	timeout := flag.Duration("timeout", 5*time.Minute, "Deadline for a single run with --once")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.CollectorOnlyValidate(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stderr)
	if err != nil {
		logrus.Fatalf("Failed to create logger: %v", err)
	}

	client := api.NewClient(cfg.Collector.APIURL, api.WithToken(cfg.Collector.Token))
	c := collector.New(client, cfg.Collector.Payees,
		collector.WithConcurrency(cfg.Collector.Concurrency),
		collector.WithLogger(logger),
	)

	if *once {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()

		summary, err := c.Run(ctx)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(summary); encErr != nil {
			logger.WithError(encErr).Error("Failed to print summary")
		}
		if err != nil || summary.Failed > 0 {
			cancel()
			os.Exit(1)
		}
		return
	}

	sched, err := c.Schedule(cfg.Collector.Schedule)
	if err != nil {
		logger.WithError(err).Fatal("Failed to schedule collector")
	}
	sched.Start()
	logger.WithFields(logrus.Fields{
		"api":      cfg.Collector.APIURL,
		"payee":    cfg.Collector.Payees[0],
		"schedule": cfg.Collector.Schedule,
	}).Info("pullpay collector started")

	sm := observability.NewShutdownManager(logger, nil, 30*time.Second)
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		select {
		case <-sched.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err := sm.WaitForShutdown(context.Background()); err != nil {
		logger.WithError(err).Fatal("Collector shutdown failed")
	}
	logger.Info("pullpay collector stopped")
}
