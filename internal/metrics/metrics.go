// Package metrics centralizes every promauto metric definition so
// internal/httpapi, internal/ledger, internal/ratelimit and
// internal/webhookworker all record against the same registry. Grounded on
// ledgerops's internal/api/handlers.go package-level
// httpRequestsTotal/httpRequestDuration vars, generalized into one shared
// package instead of scattering promauto calls per package.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal mirrors ledger_http_requests_total.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests processed, labeled by method, route and status class.",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration mirrors
	// ledger_http_request_duration_seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "route"})

	// LedgerOperationsTotal counts deposits/withdrawals/transfers by
	// outcome, extending ledgerops's HTTP-only instrumentation down into
	// the service layer.
	LedgerOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_operations_total",
		Help: "Ledger operations processed, labeled by operation and outcome.",
	}, []string{"operation", "outcome"})

	// RateLimitThrottledTotal counts requests rejected by internal/ratelimit.
	RateLimitThrottledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_rate_limit_throttled_total",
		Help: "Requests rejected by the rate limiter, labeled by route.",
	}, []string{"route"})

	// WebhookDeliveryAttemptsTotal counts webhook delivery attempts by
	// outcome (delivered, retry, failed).
	WebhookDeliveryAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_webhook_delivery_attempts_total",
		Help: "Webhook delivery attempts, labeled by outcome.",
	}, []string{"outcome"})

	// WebhookDeliveryDuration measures the outbound HTTP call latency for
	// webhook deliveries.
	WebhookDeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_webhook_delivery_duration_seconds",
		Help:    "Latency of outbound webhook delivery HTTP calls.",
		Buckets: prometheus.DefBuckets,
	})

	// WebhookQueueDepth reports the number of PENDING webhook events still
	// awaiting delivery, sampled by the worker's poll loop.
	WebhookQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_webhook_queue_depth",
		Help: "Number of webhook events currently PENDING delivery.",
	})
)
