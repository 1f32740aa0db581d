package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	PublishCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mq_publish_count",
			Help: "Total number of messages published to the broker",
		},
		[]string{"routing_key", "status"}, // status: ok, error
	)

	ConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "Message processing latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"queue"},
	)

	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_attempts_total",
			Help: "Delivery attempts by outcome",
		},
		[]string{"queue", "outcome"}, // outcome: acked, retried, dead_lettered
	)

	DispatchCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_count",
			Help: "Dispatch orchestration outcomes",
		},
		[]string{"channel", "outcome"}, // outcome: queued, skipped, failed
	)

	RateLimitDenied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limit_denied_total",
			Help: "Requests denied by the rate limiter",
		},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)
)

func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func RecordConsumeLatency(queue string, duration time.Duration) {
	ConsumeLatency.WithLabelValues(queue).Observe(float64(duration.Milliseconds()))
}
