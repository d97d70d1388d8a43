package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	IngestMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_messages_total",
			Help: "Total number of messages handled by the ingestion loop, by packet type and outcome (count)",
		},
		[]string{"packet_type", "outcome"},
	)

	IngestProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_processing_duration_ms",
			Help:    "Time from receive to acknowledgement in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"outcome"},
	)

	IngestAcksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_acks_total",
			Help: "Total number of acknowledgements sent to the broker (count)",
		},
		[]string{"status"},
	)

	IngestLoopState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_loop_state",
			Help: "Ingestion loop state (0=disconnected, 1=subscribing, 2=listening, 3=processing, 4=failed) (state code)",
		},
	)

	BrokerMessagesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_received_total",
			Help: "Total number of deliveries received from the broker (count)",
		},
		[]string{"broker", "queue"},
	)

	BrokerMessagesPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_published_total",
			Help: "Total number of messages published to the broker (count)",
		},
		[]string{"broker", "queue", "status"},
	)

	BrokerMessageSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_message_size_bytes",
			Help:    "Size of broker message bodies in bytes",
			Buckets: []float64{64, 128, 256, 512, 1024, 4096, 16384, 65536},
		},
		[]string{"broker", "direction"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "operation"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"table", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"table", "operation"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
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

	ConsolePacketLossPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "console_packet_loss_percent",
			Help: "Packet loss measured by the last spam run (percent)",
		},
	)
)

var (
	ingestOnce  sync.Once
	brokerOnce  sync.Once
	storeOnce   sync.Once
	cbOnce      sync.Once
	consoleOnce sync.Once
)

func RegisterIngestMetrics() {
	ingestOnce.Do(func() {
		prometheus.MustRegister(IngestMessagesTotal)
		prometheus.MustRegister(IngestProcessingDuration)
		prometheus.MustRegister(IngestAcksTotal)
		prometheus.MustRegister(IngestLoopState)
	})
}

func RegisterBrokerMetrics() {
	brokerOnce.Do(func() {
		prometheus.MustRegister(BrokerMessagesReceivedTotal)
		prometheus.MustRegister(BrokerMessagesPublishedTotal)
		prometheus.MustRegister(BrokerMessageSizeBytes)
		prometheus.MustRegister(RetryAttemptsTotal)
	})
}

func RegisterStoreMetrics() {
	storeOnce.Do(func() {
		prometheus.MustRegister(DatabaseQueriesTotal)
		prometheus.MustRegister(DatabaseQueryDuration)
	})
}

func RegisterCircuitBreakerMetrics() {
	cbOnce.Do(func() {
		prometheus.MustRegister(CircuitBreakerState)
		prometheus.MustRegister(CircuitBreakerRequests)
		prometheus.MustRegister(CircuitBreakerFailures)
	})
}

func RegisterConsoleMetrics() {
	consoleOnce.Do(func() {
		prometheus.MustRegister(RateLimitRequestsTotal)
		prometheus.MustRegister(ConsolePacketLossPercent)
	})
}

func IncIngestMessage(packetType, outcome string) {
	IngestMessagesTotal.WithLabelValues(packetType, outcome).Inc()
}

func ObserveIngestDuration(outcome string, duration time.Duration) {
	IngestProcessingDuration.WithLabelValues(outcome).Observe(float64(duration.Milliseconds()))
}

func IncAck(status string) {
	IngestAcksTotal.WithLabelValues(status).Inc()
}

func SetLoopState(code int) {
	IngestLoopState.Set(float64(code))
}

func IncBrokerReceived(broker, queue string, sizeBytes int) {
	BrokerMessagesReceivedTotal.WithLabelValues(broker, queue).Inc()
	BrokerMessageSizeBytes.WithLabelValues(broker, "in").Observe(float64(sizeBytes))
}

func IncBrokerPublished(broker, queue, status string, sizeBytes int) {
	BrokerMessagesPublishedTotal.WithLabelValues(broker, queue, status).Inc()
	BrokerMessageSizeBytes.WithLabelValues(broker, "out").Observe(float64(sizeBytes))
}

func IncDatabaseQuery(table, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(table, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(table, operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(table, operation).Observe(float64(duration.Milliseconds()))
}

func SetPacketLoss(percent float64) {
	ConsolePacketLossPercent.Set(percent)
}
