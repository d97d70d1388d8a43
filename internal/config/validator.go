package config

import (
	"fmt"
	"strings"

	"github.com/dyadov103/home-hydroponics/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errs []error

	if err := validateServer(cfg.Server); err != nil {
		errs = append(errs, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errs = append(errs, err)
	}

	if err := validatePostgres(cfg.Database.Postgres); err != nil {
		errs = append(errs, err)
	}

	if err := validateIngest(cfg.Ingest); err != nil {
		errs = append(errs, err)
	}

	if err := validateLogging(cfg.Logging); err != nil {
		errs = append(errs, err)
	}

	if err := validateControl(cfg.Control); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

func validatePort(field string, port int) error {
	if port < 1 || port > 65535 {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", port),
		}
	}
	return nil
}

func validateServer(cfg ServerConfig) error {
	if err := validatePort("server.port", cfg.Port); err != nil {
		return err
	}

	if cfg.ReadTimeout <= 0 {
		return &ValidationError{Field: "server.read_timeout", Message: "read timeout must be positive"}
	}

	if cfg.WriteTimeout <= 0 {
		return &ValidationError{Field: "server.write_timeout", Message: "write timeout must be positive"}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.Type == "" {
		return &ValidationError{Field: "broker.type", Message: "broker type is required"}
	}

	if cfg.Queue == "" {
		return &ValidationError{Field: "broker.queue", Message: "queue name is required"}
	}

	if err := validateRetry("broker.startup_retry", cfg.StartupRetry); err != nil {
		return err
	}

	switch cfg.Type {
	case constants.BrokerRabbitMQ:
		return validateRabbitMQ(cfg.RabbitMQ)
	case constants.BrokerKafka:
		return validateKafka(cfg.Kafka)
	case constants.BrokerNATS:
		return validateNATS(cfg.NATS)
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: rabbitmq, kafka, nats)", cfg.Type),
		}
	}
}

func validateRetry(prefix string, cfg RetryConfig) error {
	if cfg.MaxAttempts < 1 {
		return &ValidationError{Field: prefix + ".max_attempts", Message: "max_attempts must be at least 1"}
	}

	if cfg.InitialInterval < 0 {
		return &ValidationError{Field: prefix + ".initial_interval", Message: "initial_interval must be non-negative"}
	}

	if cfg.MaxInterval < 0 {
		return &ValidationError{Field: prefix + ".max_interval", Message: "max_interval must be non-negative"}
	}

	if cfg.MaxInterval > 0 && cfg.InitialInterval > 0 && cfg.MaxInterval < cfg.InitialInterval {
		return &ValidationError{
			Field:   prefix + ".max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Multiplier <= 0 {
		return &ValidationError{Field: prefix + ".multiplier", Message: "multiplier must be positive"}
	}

	return nil
}

func validateRabbitMQ(cfg RabbitMQConfig) error {
	if cfg.URL != "" {
		if !strings.HasPrefix(cfg.URL, "amqp://") && !strings.HasPrefix(cfg.URL, "amqps://") {
			return &ValidationError{
				Field:   "broker.rabbitmq.url",
				Message: "RabbitMQ URL must start with amqp:// or amqps://",
			}
		}
		return nil
	}

	if cfg.Host == "" {
		return &ValidationError{Field: "broker.rabbitmq.host", Message: "RabbitMQ host or url is required"}
	}

	if err := validatePort("broker.rabbitmq.port", cfg.Port); err != nil {
		return err
	}

	if cfg.PrefetchCount < 0 {
		return &ValidationError{Field: "broker.rabbitmq.prefetch_count", Message: "prefetch_count must be non-negative"}
	}

	return nil
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{Field: "broker.kafka.brokers", Message: "at least one Kafka broker is required"}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.GroupID == "" {
		return &ValidationError{Field: "broker.kafka.group_id", Message: "Kafka consumer group ID is required"}
	}

	return nil
}

func validateNATS(cfg NATSConfig) error {
	if cfg.URL == "" {
		return &ValidationError{Field: "broker.nats.url", Message: "NATS URL is required"}
	}

	if cfg.Stream == "" {
		return &ValidationError{Field: "broker.nats.stream", Message: "JetStream stream name is required"}
	}

	if cfg.Durable == "" {
		return &ValidationError{Field: "broker.nats.durable", Message: "durable consumer name is required"}
	}

	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{Field: "database.postgres.host", Message: "PostgreSQL host is required"}
	}

	if err := validatePort("database.postgres.port", cfg.Port); err != nil {
		return err
	}

	if cfg.User == "" {
		return &ValidationError{Field: "database.postgres.user", Message: "PostgreSQL user is required"}
	}

	if cfg.DBName == "" {
		return &ValidationError{Field: "database.postgres.dbname", Message: "PostgreSQL database name is required"}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	if cfg.MaxOpenConns < 1 {
		return &ValidationError{Field: "database.postgres.max_open_conns", Message: "pool size must be at least 1"}
	}

	return nil
}

func validateIngest(cfg IngestConfig) error {
	if cfg.StoreTimeout <= 0 {
		return &ValidationError{Field: "ingest.store_timeout", Message: "store timeout must be positive"}
	}
	return nil
}

func validateLogging(cfg LoggingConfig) error {
	switch strings.ToLower(cfg.Format) {
	case "", "json", "console":
	default:
		return &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: json, console)", cfg.Format),
		}
	}
	return nil
}

func validateControl(cfg ControlConfig) error {
	if err := validatePort("control.port", cfg.Port); err != nil {
		return err
	}

	if cfg.SpamCount < 1 {
		return &ValidationError{Field: "control.spam_count", Message: "spam_count must be at least 1"}
	}

	if cfg.RateLimit.Enabled && (cfg.RateLimit.RPS <= 0 || cfg.RateLimit.Burst < 1) {
		return &ValidationError{Field: "control.rate_limit", Message: "rps and burst must be positive when rate limiting is enabled"}
	}

	return nil
}
