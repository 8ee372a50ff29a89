package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/pullpay/pkg/authz"
	"github.com/platinummonkey/pullpay/pkg/billing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. It implements billing.Metrics and
// its ObserveDecision method is the host's authorization decision observer.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Billing metrics
	SubscriptionsCreatedTotal prometheus.Counter
	CollectionsTotal          *prometheus.CounterVec
	CollectedAmountTotal      prometheus.Counter
	LedgerUnitDuration        *prometheus.HistogramVec

	// Authorization metrics
	AuthzDecisionsTotal *prometheus.CounterVec

	// Collector metrics
	CollectorRunsTotal    *prometheus.CounterVec
	CollectorLastRunTime  prometheus.Gauge
	CollectorRunCollected prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pullpay_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pullpay_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		SubscriptionsCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pullpay_subscriptions_created_total",
				Help: "Total number of subscriptions created or replaced",
			},
		),
		CollectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pullpay_collections_total",
				Help: "Total number of collection attempts by outcome",
			},
			[]string{"status"},
		),
		CollectedAmountTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pullpay_collected_amount_total",
				Help: "Total amount collected from subscribers",
			},
		),
		LedgerUnitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pullpay_ledger_unit_duration_seconds",
				Help:    "Duration of ledger units of work",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"operation"},
		),

		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pullpay_authz_decisions_total",
				Help: "Total number of authorization decisions",
			},
			[]string{"operation", "path", "decision"},
		),

		CollectorRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pullpay_collector_runs_total",
				Help: "Total number of collector runs",
			},
			[]string{"status"},
		),
		CollectorLastRunTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pullpay_collector_last_run_timestamp_seconds",
				Help: "Unix time of the last collector run",
			},
		),
		CollectorRunCollected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pullpay_collector_last_run_collected",
				Help: "Payments collected by the last collector run",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SubscriptionsCreatedTotal,
		m.CollectionsTotal,
		m.CollectedAmountTotal,
		m.LedgerUnitDuration,
		m.AuthzDecisionsTotal,
		m.CollectorRunsTotal,
		m.CollectorLastRunTime,
		m.CollectorRunCollected,
	)

	return m
}

var _ billing.Metrics = (*Metrics)(nil)

// SubscriptionCreated counts a created subscription
func (m *Metrics) SubscriptionCreated() {
	m.SubscriptionsCreatedTotal.Inc()
}

// CollectionAttempted counts a collection attempt; amount is added to the
// collected total only for successful ones
func (m *Metrics) CollectionAttempted(status string, amount uint64) {
	m.CollectionsTotal.WithLabelValues(status).Inc()
	if status == billing.StatusCollected {
		m.CollectedAmountTotal.Add(float64(amount))
	}
}

// LedgerUnitObserved records the duration of a ledger unit
func (m *Metrics) LedgerUnitObserved(operation string, d time.Duration) {
	m.LedgerUnitDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveDecision counts an authorization decision
func (m *Metrics) ObserveDecision(op authz.OperationID, path authz.CallPath, allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.AuthzDecisionsTotal.WithLabelValues(string(op), string(path), decision).Inc()
}

// CollectorRun records the outcome of a collector run
func (m *Metrics) CollectorRun(collected, failed int, at time.Time) {
	status := "success"
	if failed > 0 {
		status = "partial"
	}
	m.CollectorRunsTotal.WithLabelValues(status).Inc()
	m.CollectorLastRunTime.Set(float64(at.Unix()))
	m.CollectorRunCollected.Set(float64(collected))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware records request counts and durations labelled by
// route template
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(r *mux.Router, gatherer prometheus.Gatherer) {
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
