// Package metrics holds the Prometheus collectors for the funding service.
// Collectors register on the default registry, served at /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReconcileOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_reconcile_outcomes_total",
			Help: "Reconcile results by entry point and outcome",
		},
		[]string{"source", "outcome"},
	)

	ReconcileErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_reconcile_errors_total",
			Help: "Reconcile calls that returned an error, by entry point and kind",
		},
		[]string{"source", "kind"},
	)

	// ReviewFlags counts confirmed payments that were refused a credit and
	// need an operator (metadata or amount problems).
	ReviewFlags = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_review_flags_total",
			Help: "Gateway-confirmed payments held for manual review, by reason",
		},
		[]string{"reason"},
	)

	CreditedAmount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wallet_credited_amount_total",
			Help: "Sum of amounts credited to wallets",
		},
	)

	IntentsInitiated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_intents_initiated_total",
			Help: "Funding intents by initiation result",
		},
		[]string{"result"},
	)

	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_gateway_requests_total",
			Help: "Calls to the payment gateway by operation and result",
		},
		[]string{"operation", "result"},
	)

	GatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wallet_gateway_request_duration_seconds",
			Help:    "Latency of payment gateway calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wallet_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_webhook_deliveries_total",
			Help: "Inbound gateway webhooks by result",
		},
		[]string{"result"},
	)

	ProcessorSweeps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_processor_items_total",
			Help: "Items handled by the background processor, by kind and result",
		},
		[]string{"kind", "result"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_notifications_total",
			Help: "Credit notifications by stage and result",
		},
		[]string{"stage", "result"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPPanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_http_panics_total",
			Help: "Handler panics recovered, by method",
		},
		[]string{"method"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wallet_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func RecordReconcile(source, outcome string) {
	ReconcileOutcomes.WithLabelValues(source, outcome).Inc()
}

func RecordReconcileError(source, kind string) {
	ReconcileErrors.WithLabelValues(source, kind).Inc()
}

func RecordGatewayCall(operation string, duration time.Duration, result string) {
	GatewayDuration.WithLabelValues(operation).Observe(duration.Seconds())
	GatewayRequests.WithLabelValues(operation, result).Inc()
}

func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
