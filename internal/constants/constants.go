package constants

import "time"

const (
	BrokerRabbitMQ = "rabbitmq"
	BrokerKafka    = "kafka"
	BrokerNATS     = "nats"
)

const (
	DefaultQueue = "home_hydro"
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultStoreTimeout = 5 * time.Second
	DefaultHTTPTimeout  = 10 * time.Second
	ShutdownTimeout     = 5 * time.Second
	HealthCheckTimeout  = 5 * time.Second
)

const (
	DefaultPoolSize = 10
)

const (
	TableHumidity  = "humidity_data"
	TableHeartbeat = "heartbeat_data"
)

const (
	DefaultSpamCount = 1000
	ZoneCount        = 8
)

const (
	ServiceIngestor = "hydro-ingestor"
	ServiceConsole  = "hydroctl"
)
