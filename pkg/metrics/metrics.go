package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Lifecycle transitions, result: applied, noop, rejected, conflict.
	TransitionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_transitions_total",
			Help: "Email state transitions by source, target and result",
		},
		[]string{"from", "to", "result"},
	)

	// Ingestion outcomes, result: admitted, duplicate, failed.
	IngestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_ingested_total",
			Help: "Inbound messages seen by the ingestion gate",
		},
		[]string{"result"},
	)

	CommandCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_commands_total",
			Help: "Chat commands by kind and result",
		},
		[]string{"kind", "result"},
	)

	// Send attempts, result: sent, deferred, failed.
	SendCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_send_total",
			Help: "Outbound send attempts by result",
		},
		[]string{"result"},
	)

	SpamClassificationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spam_classifications_total",
			Help: "Spam classifications by verdict source",
		},
		[]string{"source", "disposed"},
	)

	// Collaborator latency (ms): drafting, mail, notify.
	CollaboratorLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collaborator_call_latency_ms",
			Help:    "External collaborator call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12), // 10ms to ~40s
		},
		[]string{"op", "status"},
	)

	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		},
		[]string{"routing_key", "queue"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)

	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Queries slower than the configured threshold",
		},
	)

	SlowQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "db_slow_query_duration_seconds",
			Help:    "Duration of slow queries in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8),
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)
)

func RecordTransition(from, to, result string) {
	TransitionCount.WithLabelValues(from, to, result).Inc()
}

func IncrementIngest(result string) {
	IngestCount.WithLabelValues(result).Inc()
}

func IncrementCommand(kind, result string) {
	CommandCount.WithLabelValues(kind, result).Inc()
}

func IncrementSend(result string) {
	SendCount.WithLabelValues(result).Inc()
}

func IncrementSpamClassification(source string, disposed bool) {
	d := "false"
	if disposed {
		d = "true"
	}
	SpamClassificationCount.WithLabelValues(source, d).Inc()
}

// RecordCollaboratorLatency records one external call.
func RecordCollaboratorLatency(op, status string, duration time.Duration) {
	CollaboratorLatency.WithLabelValues(op, status).Observe(float64(duration.Milliseconds()))
}

func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func IncrementSlowQuery(duration time.Duration) {
	SlowQueryCount.Inc()
	SlowQueryDuration.Observe(duration.Seconds())
}

func SetCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
