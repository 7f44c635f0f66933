// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the turnstile gateway.
package observability

import "github.com/prometheus/client_golang/prometheus"

// AuthBuckets defines histogram buckets suited for strategy latencies,
// from in-memory checks (sub-millisecond) to remote JWKS or database
// round trips (seconds).
var AuthBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

var (
	// RequestsTotal counts all HTTP requests by method, status class, and route.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnstile_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status", "route"},
	)

	// RequestDuration records HTTP request duration in seconds by method and route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "turnstile_request_duration_seconds",
			Help:    "Request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// InFlightRequests tracks requests currently being served.
	InFlightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "turnstile_requests_in_flight",
			Help: "In-flight requests",
		},
	)

	// DispatchTotal counts dispatches by final disposition.
	DispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnstile_dispatch_total",
			Help: "Authentication dispatches",
		},
		[]string{"result"},
	)

	// StrategyOutcomesTotal counts strategy invocations by outcome.
	StrategyOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnstile_strategy_outcomes_total",
			Help: "Strategy outcomes",
		},
		[]string{"strategy", "outcome"},
	)

	// StrategyDuration records how long each strategy took to decide.
	StrategyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "turnstile_strategy_duration_seconds",
			Help:    "Strategy latency",
			Buckets: AuthBuckets,
		},
		[]string{"strategy"},
	)

	// SessionOperationsTotal counts session store operations by outcome.
	SessionOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnstile_session_operations_total",
			Help: "Session store operations",
		},
		[]string{"operation", "status"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnstile_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		InFlightRequests,
		DispatchTotal,
		StrategyOutcomesTotal,
		StrategyDuration,
		SessionOperationsTotal,
		RateLimitRejectedTotal,
	)
}
