package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/dyadov103/home-hydroponics/internal/constants"
)

func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	v.SetConfigFile(configFile)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(v, &cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 9090)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")

	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.postgres.max_open_conns", constants.DefaultPoolSize)
	v.SetDefault("database.postgres.max_idle_conns", constants.DefaultPoolSize)
	v.SetDefault("database.postgres.conn_max_lifetime", "30m")

	v.SetDefault("broker.type", constants.BrokerRabbitMQ)
	v.SetDefault("broker.queue", constants.DefaultQueue)
	v.SetDefault("broker.rabbitmq.port", 5672)
	v.SetDefault("broker.rabbitmq.prefetch_count", 1)
	v.SetDefault("broker.kafka.group_id", "hydro-ingestor")
	v.SetDefault("broker.nats.stream", "HOME_HYDRO")
	v.SetDefault("broker.nats.durable", "hydro-ingestor")
	v.SetDefault("broker.nats.ack_wait", "30s")
	v.SetDefault("broker.startup_retry.max_attempts", 1)
	v.SetDefault("broker.startup_retry.initial_interval", "500ms")
	v.SetDefault("broker.startup_retry.max_interval", "10s")
	v.SetDefault("broker.startup_retry.multiplier", 2.0)

	v.SetDefault("ingest.store_timeout", constants.DefaultStoreTimeout.String())

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("control.port", 8080)
	v.SetDefault("control.spam_count", constants.DefaultSpamCount)
	v.SetDefault("control.rate_limit.rps", 10.0)
	v.SetDefault("control.rate_limit.burst", 20)
	v.SetDefault("control.rate_limit.cleanup_interval", "5m")
	v.SetDefault("control.rate_limit.max_age", "10m")
}

func bindEnvVariables(v *viper.Viper) {
	v.BindEnv("broker.type", "BROKER_TYPE")
	v.BindEnv("broker.queue", "BROKER_QUEUE")
	v.BindEnv("broker.rabbitmq.url", "BROKER_RABBITMQ_URL")
	v.BindEnv("broker.rabbitmq.host", "BROKER_RABBITMQ_HOST")
	v.BindEnv("broker.rabbitmq.user", "BROKER_RABBITMQ_USER")
	v.BindEnv("broker.rabbitmq.password", "BROKER_RABBITMQ_PASSWORD")
	v.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	v.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	v.BindEnv("broker.nats.url", "BROKER_NATS_URL")

	v.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	v.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	v.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	v.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	v.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	v.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")
	v.BindEnv("database.run_migrations", "DATABASE_RUN_MIGRATIONS")

	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("control.port", "CONTROL_PORT")

	v.BindEnv("ingest.store_timeout", "INGEST_STORE_TIMEOUT")
	v.BindEnv("ingest.strict_fields", "INGEST_STRICT_FIELDS")

	v.BindEnv("logging.level", "LOGGING_LEVEL")
	v.BindEnv("logging.format", "LOGGING_FORMAT")

	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
	v.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	v.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
}

// applyEnvOverrides handles values viper cannot split on its own.
func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	if brokersEnv := v.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}
}
