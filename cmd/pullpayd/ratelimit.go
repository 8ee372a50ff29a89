package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/platinummonkey/pullpay/pkg/config"
	"github.com/platinummonkey/pullpay/pkg/middleware"
	"github.com/sirupsen/logrus"
)

// newRateLimit builds the /v1 throttling middleware, nil when disabled
func newRateLimit(ctx context.Context, cfg config.RateLimitConfig, logger logrus.FieldLogger) (mux.MiddlewareFunc, func() error, error) {
	noop := func() error { return nil }
	if !cfg.Enabled {
		return nil, noop, nil
	}

	limits := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RequestsPerMinute,
		WindowDuration:    time.Minute,
		BurstSize:         cfg.Burst,
	}
	log := logger.WithField("component", "ratelimit")

	switch cfg.Backend {
	case config.RateLimitRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid rate limit redis URL: %w", err)
		}
		client := redis.NewClient(opts)
		limiter := middleware.NewDistributedRateLimiter(client, limits, "pullpay:ratelimit")
		if err := limiter.HealthCheck(ctx); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to rate limit redis: %w", err)
		}
		log.WithField("backend", cfg.Backend).Info("Rate limiting enabled")
		return middleware.RateLimit(limiter, middleware.ByCredential, log), client.Close, nil

	default:
		limiter := middleware.NewRateLimiter(limits)
		limiter.StartCleanup(ctx)
		log.WithField("backend", cfg.Backend).Info("Rate limiting enabled")
		return middleware.RateLimit(limiter, middleware.ByCredential, log), noop, nil
	}
}
