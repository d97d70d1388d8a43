package broker

import (
	"fmt"

	"github.com/dyadov103/home-hydroponics/internal/config"
	"github.com/dyadov103/home-hydroponics/internal/constants"
	"github.com/dyadov103/home-hydroponics/internal/logger"
)

func NewProducer(cfg config.BrokerConfig, log logger.Logger) (Producer, error) {
	switch cfg.Type {
	case constants.BrokerRabbitMQ:
		return NewRabbitMQProducer(cfg.RabbitMQ, log), nil
	case constants.BrokerKafka:
		return NewKafkaProducer(cfg.Kafka, log), nil
	case constants.BrokerNATS:
		return NewNATSProducer(cfg.NATS, log), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}

func NewConsumer(cfg config.BrokerConfig, log logger.Logger) (Consumer, error) {
	switch cfg.Type {
	case constants.BrokerRabbitMQ:
		return NewRabbitMQConsumer(cfg.RabbitMQ, log), nil
	case constants.BrokerKafka:
		return NewKafkaConsumer(cfg.Kafka, log), nil
	case constants.BrokerNATS:
		return NewNATSConsumer(cfg.NATS, log), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}
