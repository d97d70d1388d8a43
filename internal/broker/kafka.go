package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/dyadov103/home-hydroponics/internal/config"
	"github.com/dyadov103/home-hydroponics/internal/constants"
	"github.com/dyadov103/home-hydroponics/internal/logger"
	"github.com/dyadov103/home-hydroponics/pkg/metrics"
	"github.com/dyadov103/home-hydroponics/pkg/tracing"
)

type KafkaProducer struct {
	writer *kafka.Writer
	logger logger.Logger
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           constants.KafkaBatchTimeout,
		WriteTimeout:           constants.KafkaWriteTimeout,
		RequiredAcks:           kafka.RequireNone,
		AllowAutoTopicCreation: true,
	}
	return &KafkaProducer{writer: w, logger: log}
}

func (p *KafkaProducer) Publish(ctx context.Context, topic string, body []byte) error {
	ctx, span := tracing.StartPublishSpan(ctx, constants.BrokerKafka, topic)
	defer span.End()

	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(uuid.NewString()),
		Value:   body,
		Headers: tracing.InjectKafka(ctx, nil),
		Time:    time.Now(),
	})
	if err != nil {
		span.RecordError(err)
		metrics.IncBrokerPublished(constants.BrokerKafka, topic, "error", len(body))
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	metrics.IncBrokerPublished(constants.BrokerKafka, topic, "success", len(body))
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

type KafkaConsumer struct {
	cfg    config.KafkaConfig
	reader *kafka.Reader
	topic  string
	logger logger.Logger
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger) *KafkaConsumer {
	return &KafkaConsumer{cfg: cfg, logger: log}
}

// Subscribe makes sure the topic exists on the cluster controller, then opens
// a group reader. Committing an offset is the acknowledgement.
func (c *KafkaConsumer) Subscribe(ctx context.Context, topic string) error {
	if err := c.ensureTopic(ctx, topic); err != nil {
		return err
	}

	c.logger.Infow("Creating Kafka reader",
		"topic", topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
	)

	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.cfg.GroupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	c.topic = topic
	return nil
}

func (c *KafkaConsumer) ensureTopic(ctx context.Context, topic string) error {
	if len(c.cfg.Brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}

	conn, err := kafka.DialContext(ctx, "tcp", c.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial kafka: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to find kafka controller: %w", err)
	}

	ctrl, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("failed to dial kafka controller: %w", err)
	}
	defer ctrl.Close()

	err = ctrl.CreateTopics(kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("failed to create topic %q: %w", topic, err)
	}
	return nil
}

func (c *KafkaConsumer) Consume(ctx context.Context, handler Handler) error {
	if c.reader == nil {
		return ErrNotSubscribed
	}

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return ErrChannelClosed
			}
			c.logger.Errorw("Error fetching kafka message",
				"error", err,
				"topic", c.topic,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		metrics.IncBrokerReceived(constants.BrokerKafka, c.topic, len(m.Value))
		handler(ctx, &kafkaDelivery{msg: m, reader: c.reader})
	}
}

func (c *KafkaConsumer) Close() error {
	if c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

type kafkaDelivery struct {
	msg    kafka.Message
	reader *kafka.Reader
}

func (k *kafkaDelivery) Body() []byte {
	return k.msg.Value
}

func (k *kafkaDelivery) ID() string {
	if len(k.msg.Key) > 0 {
		return string(k.msg.Key)
	}
	return fmt.Sprintf("%d-%d", k.msg.Partition, k.msg.Offset)
}

func (k *kafkaDelivery) TraceContext(ctx context.Context) context.Context {
	return tracing.ExtractKafka(ctx, k.msg.Headers)
}

func (k *kafkaDelivery) Ack(ctx context.Context) error {
	return k.reader.CommitMessages(ctx, k.msg)
}
