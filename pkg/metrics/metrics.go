package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	IngestMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_messages_total",
			Help: "Total number of inbound messages processed by the ingestor (count)",
		},
		[]string{"source", "status"},
	)

	IngestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_duration_ms",
			Help:    "Duration of idempotent ingestion in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"status"},
	)

	DispatchAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_attempts_total",
			Help: "Total number of delivery attempts by outcome (count)",
		},
		[]string{"outcome"},
	)

	DispatchAttemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_attempt_duration_ms",
			Help:    "Duration of bridge delivery attempts in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"outcome"},
	)

	DispatchQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_queue_depth",
			Help: "Number of outbound messages currently eligible for dispatch (count)",
		},
	)

	DispatchStaleRequeuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_stale_requeued_total",
			Help: "Total number of stale claims returned to the queue by the reaper (count)",
		},
	)

	DeadLetterTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dead_letter_total",
			Help: "Total number of messages that exhausted retries (count)",
		},
		[]string{"error_kind"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "breaker_state",
			Help: "Persisted circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"service"},
	)

	BreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions (count)",
		},
		[]string{"service", "from", "to"},
	)

	BreakerDroppedOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_dropped_outcomes_total",
			Help: "Total number of breaker outcomes dropped after losing a conditional update race (count)",
		},
		[]string{"service"},
	)

	StatusCacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "status_cache_requests_total",
			Help: "Total number of status cache lookups (count)",
		},
		[]string{"result"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "In-process circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through in-process circuit breakers (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through in-process circuit breakers (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of audit events written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing audit events to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	PublishRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publish_retries_total",
			Help: "Total number of retried audit event publishes (count)",
		},
		[]string{"service", "topic"},
	)
)

func RegisterIngestMetrics() {
	prometheus.MustRegister(IngestMessagesTotal)
	prometheus.MustRegister(IngestDuration)
}

func RegisterDispatchMetrics() {
	prometheus.MustRegister(DispatchAttemptsTotal)
	prometheus.MustRegister(DispatchAttemptDuration)
	prometheus.MustRegister(DispatchQueueDepth)
	prometheus.MustRegister(DispatchStaleRequeuedTotal)
	prometheus.MustRegister(DeadLetterTotal)
}

func RegisterBreakerMetrics() {
	prometheus.MustRegister(BreakerState)
	prometheus.MustRegister(BreakerTransitionsTotal)
	prometheus.MustRegister(BreakerDroppedOutcomesTotal)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func RegisterAPIMetrics() {
	prometheus.MustRegister(RateLimitRequestsTotal)
	prometheus.MustRegister(StatusCacheRequestsTotal)
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(KafkaMessagesWrittenTotal)
	prometheus.MustRegister(KafkaWriteDuration)
	prometheus.MustRegister(PublishRetriesTotal)
}

func ObserveIngestDuration(duration time.Duration, status string) {
	IngestDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func ObserveAttemptDuration(duration time.Duration, outcome string) {
	DispatchAttemptDuration.WithLabelValues(outcome).Observe(float64(duration.Milliseconds()))
}

func SetDispatchQueueDepth(depth int) {
	DispatchQueueDepth.Set(float64(depth))
}

func SetBreakerState(service string, state int) {
	BreakerState.WithLabelValues(service).Set(float64(state))
}

func IncBreakerTransition(service, from, to string) {
	BreakerTransitionsTotal.WithLabelValues(service, from, to).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}
