package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/dyadov103/home-hydroponics/internal/config"
	"github.com/dyadov103/home-hydroponics/internal/constants"
	"github.com/dyadov103/home-hydroponics/internal/logger"
	apperrors "github.com/dyadov103/home-hydroponics/pkg/errors"
	"github.com/dyadov103/home-hydroponics/pkg/metrics"
	"github.com/dyadov103/home-hydroponics/pkg/tracing"
)

// declareQueue declares the durable, non-exclusive queue both sides share.
func declareQueue(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", queue, err)
	}
	return nil
}

type RabbitMQConsumer struct {
	cfg    config.RabbitMQConfig
	logger logger.Logger

	conn       *amqp.Connection
	ch         *amqp.Channel
	queue      string
	deliveries <-chan amqp.Delivery
}

func NewRabbitMQConsumer(cfg config.RabbitMQConfig, log logger.Logger) *RabbitMQConsumer {
	return &RabbitMQConsumer{cfg: cfg, logger: log}
}

func (c *RabbitMQConsumer) Subscribe(ctx context.Context, queue string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	conn, err := amqp.Dial(c.cfg.AMQPURL())
	if err != nil {
		return dialError(err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareQueue(ch, queue); err != nil {
		conn.Close()
		return err
	}

	prefetch := c.cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to register consumer on %q: %w", queue, err)
	}

	c.conn = conn
	c.ch = ch
	c.queue = queue
	c.deliveries = deliveries

	c.logger.Infow("Subscribed to queue",
		"broker", constants.BrokerRabbitMQ,
		"queue", queue,
		"prefetch", prefetch,
	)
	return nil
}

func (c *RabbitMQConsumer) Consume(ctx context.Context, handler Handler) error {
	if c.deliveries == nil {
		return ErrNotSubscribed
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-c.deliveries:
			if !ok {
				return ErrChannelClosed
			}
			metrics.IncBrokerReceived(constants.BrokerRabbitMQ, c.queue, len(d.Body))
			handler(ctx, &rabbitMQDelivery{d: d})
		}
	}
}

func (c *RabbitMQConsumer) Close() error {
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}

type rabbitMQDelivery struct {
	d amqp.Delivery
}

func (r *rabbitMQDelivery) Body() []byte {
	return r.d.Body
}

func (r *rabbitMQDelivery) ID() string {
	if r.d.MessageId != "" {
		return r.d.MessageId
	}
	return strconv.FormatUint(r.d.DeliveryTag, 10)
}

func (r *rabbitMQDelivery) TraceContext(ctx context.Context) context.Context {
	return tracing.ExtractAMQP(ctx, r.d.Headers)
}

func (r *rabbitMQDelivery) Ack(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.d.Ack(false)
}

// RabbitMQProducer connects lazily and keeps a channel of its own, separate
// from any consumer.
type RabbitMQProducer struct {
	cfg    config.RabbitMQConfig
	logger logger.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]bool
}

func NewRabbitMQProducer(cfg config.RabbitMQConfig, log logger.Logger) *RabbitMQProducer {
	return &RabbitMQProducer{cfg: cfg, logger: log, declared: make(map[string]bool)}
}

func (p *RabbitMQProducer) connect() error {
	if p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.cfg.AMQPURL())
		if err != nil {
			return fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		p.conn = conn
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	p.ch = ch
	p.declared = make(map[string]bool)
	return nil
}

// Publish sends body to queue without publisher confirms.
func (p *RabbitMQProducer) Publish(ctx context.Context, queue string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connect(); err != nil {
		metrics.IncBrokerPublished(constants.BrokerRabbitMQ, queue, "error", len(body))
		return err
	}

	if !p.declared[queue] {
		if err := declareQueue(p.ch, queue); err != nil {
			metrics.IncBrokerPublished(constants.BrokerRabbitMQ, queue, "error", len(body))
			return err
		}
		p.declared[queue] = true
	}

	ctx, span := tracing.StartPublishSpan(ctx, constants.BrokerRabbitMQ, queue)
	defer span.End()

	err := p.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Headers:      tracing.InjectAMQP(ctx, nil),
		Body:         body,
	})
	if err != nil {
		span.RecordError(err)
		metrics.IncBrokerPublished(constants.BrokerRabbitMQ, queue, "error", len(body))
		return fmt.Errorf("failed to publish to %q: %w", queue, err)
	}

	metrics.IncBrokerPublished(constants.BrokerRabbitMQ, queue, "success", len(body))
	return nil
}

func (p *RabbitMQProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	return p.conn.Close()
}

// dialError marks refused credentials as fatal; retrying them cannot succeed.
func dialError(err error) error {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) && amqpErr.Code == amqp.AccessRefused {
		return apperrors.ErrServiceUnavailable.
			WithCause(err).
			WithDetail("message", "rabbitmq refused the configured credentials").
			AsFatal()
	}
	return fmt.Errorf("failed to connect to rabbitmq: %w", err)
}
