package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/pullpay/pkg/billing"
	"github.com/platinummonkey/pullpay/pkg/config"
	"github.com/platinummonkey/pullpay/pkg/host"
	"github.com/platinummonkey/pullpay/pkg/httputil"
	"github.com/platinummonkey/pullpay/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Config holds the dependencies of the HTTP API
type Config struct {
	Runtime *host.Runtime
	Engine  *billing.Engine
	Logger  logrus.FieldLogger

	// Optional
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	Health   *observability.HealthChecker

	// RateLimit throttles /v1 requests
	RateLimit mux.MiddlewareFunc
}

// NewRouter builds the API router with its middleware chain
func NewRouter(cfg Config) *mux.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	r := mux.NewRouter()
	r.Use(httputil.RequestIDMiddleware)
	r.Use(loggerMiddleware(logger))
	r.Use(httputil.LoggingMiddleware(logger))
	r.Use(httputil.RecoveryMiddleware(logger))
	if cfg.Metrics != nil {
		r.Use(observability.HTTPMetricsMiddleware(cfg.Metrics))
	}

	var v1 []mux.MiddlewareFunc
	if cfg.RateLimit != nil {
		v1 = append(v1, cfg.RateLimit)
	}
	NewHandlers(cfg.Runtime, cfg.Engine).RegisterRoutes(r, v1...)

	if cfg.Health != nil {
		observability.RegisterHealthRoutes(r, cfg.Health)
	}
	if cfg.Gatherer != nil {
		observability.RegisterMetricsEndpoint(r, cfg.Gatherer)
	}

	return r
}

// NewHandler wraps the router with OpenTelemetry instrumentation
func NewHandler(cfg Config) http.Handler {
	return otelhttp.NewHandler(NewRouter(cfg), "pullpay-api",
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// NewServer creates the HTTP server for handler
func NewServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func loggerMiddleware(logger logrus.FieldLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(observability.WithLogger(r.Context(), logger)))
		})
	}
}
