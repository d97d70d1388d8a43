package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/dyadov103/home-hydroponics/internal/config"
	"github.com/dyadov103/home-hydroponics/internal/constants"
	"github.com/dyadov103/home-hydroponics/internal/logger"
	"github.com/dyadov103/home-hydroponics/pkg/metrics"
	"github.com/dyadov103/home-hydroponics/pkg/tracing"
)

const natsSetupTimeout = 10 * time.Second

func connectJetStream(cfg config.NATSConfig) (*nats.Conn, jetstream.JetStream, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}

	nc, err := nats.Connect(url, nats.Name(constants.ServiceIngestor))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}
	return nc, js, nil
}

// ensureStream declares the work-queue stream that backs subject.
func ensureStream(ctx context.Context, js jetstream.JetStream, cfg config.NATSConfig, subject string) error {
	ctx, cancel := context.WithTimeout(ctx, natsSetupTimeout)
	defer cancel()

	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Retention: jetstream.WorkQueuePolicy,
		Subjects:  []string{subject},
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to declare stream %q: %w", cfg.Stream, err)
	}
	return nil
}

type NATSConsumer struct {
	cfg    config.NATSConfig
	logger logger.Logger

	nc       *nats.Conn
	consumer jetstream.Consumer
	subject  string
}

func NewNATSConsumer(cfg config.NATSConfig, log logger.Logger) *NATSConsumer {
	return &NATSConsumer{cfg: cfg, logger: log}
}

func (c *NATSConsumer) Subscribe(ctx context.Context, subject string) error {
	nc, js, err := connectJetStream(c.cfg)
	if err != nil {
		return err
	}
	if err := ensureStream(ctx, js, c.cfg, subject); err != nil {
		nc.Close()
		return err
	}

	ackWait := c.cfg.AckWait
	if ackWait <= 0 {
		ackWait = 30 * time.Second
	}

	setupCtx, cancel := context.WithTimeout(ctx, natsSetupTimeout)
	defer cancel()

	consumer, err := js.CreateOrUpdateConsumer(setupCtx, c.cfg.Stream, jetstream.ConsumerConfig{
		Name:          c.cfg.Durable,
		Durable:       c.cfg.Durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: subject,
		AckWait:       ackWait,
		MaxAckPending: 1,
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create consumer %q: %w", c.cfg.Durable, err)
	}

	c.nc = nc
	c.consumer = consumer
	c.subject = subject

	c.logger.Infow("Subscribed to queue",
		"broker", constants.BrokerNATS,
		"stream", c.cfg.Stream,
		"subject", subject,
		"durable", c.cfg.Durable,
	)
	return nil
}

func (c *NATSConsumer) Consume(ctx context.Context, handler Handler) error {
	if c.consumer == nil {
		return ErrNotSubscribed
	}

	it, err := c.consumer.Messages()
	if err != nil {
		return fmt.Errorf("failed to open message iterator: %w", err)
	}

	stop := context.AfterFunc(ctx, it.Stop)
	defer stop()

	for {
		msg, err := it.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, jetstream.ErrMsgIteratorClosed) {
				return ErrChannelClosed
			}
			return fmt.Errorf("failed to fetch nats message: %w", err)
		}

		metrics.IncBrokerReceived(constants.BrokerNATS, c.subject, len(msg.Data()))
		handler(ctx, &natsDelivery{msg: msg})
	}
}

func (c *NATSConsumer) Close() error {
	if c.nc == nil {
		return nil
	}
	return c.nc.Drain()
}

type natsDelivery struct {
	msg jetstream.Msg
}

func (n *natsDelivery) Body() []byte {
	return n.msg.Data()
}

func (n *natsDelivery) ID() string {
	if id := n.msg.Headers().Get(nats.MsgIdHdr); id != "" {
		return id
	}
	if meta, err := n.msg.Metadata(); err == nil {
		return strconv.FormatUint(meta.Sequence.Stream, 10)
	}
	return ""
}

func (n *natsDelivery) TraceContext(ctx context.Context) context.Context {
	return tracing.ExtractNATS(ctx, n.msg.Headers())
}

func (n *natsDelivery) Ack(ctx context.Context) error {
	return n.msg.DoubleAck(ctx)
}

// NATSProducer publishes asynchronously and only waits for outstanding acks
// on Close.
type NATSProducer struct {
	cfg    config.NATSConfig
	logger logger.Logger

	mu      sync.Mutex
	nc      *nats.Conn
	js      jetstream.JetStream
	streams map[string]bool
}

func NewNATSProducer(cfg config.NATSConfig, log logger.Logger) *NATSProducer {
	return &NATSProducer{cfg: cfg, logger: log, streams: make(map[string]bool)}
}

func (p *NATSProducer) Publish(ctx context.Context, subject string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.nc == nil {
		nc, js, err := connectJetStream(p.cfg)
		if err != nil {
			metrics.IncBrokerPublished(constants.BrokerNATS, subject, "error", len(body))
			return err
		}
		p.nc, p.js = nc, js
	}
	if !p.streams[subject] {
		if err := ensureStream(ctx, p.js, p.cfg, subject); err != nil {
			metrics.IncBrokerPublished(constants.BrokerNATS, subject, "error", len(body))
			return err
		}
		p.streams[subject] = true
	}

	ctx, span := tracing.StartPublishSpan(ctx, constants.BrokerNATS, subject)
	defer span.End()

	header := tracing.InjectNATS(ctx, nil)
	header.Set(nats.MsgIdHdr, uuid.NewString())

	_, err := p.js.PublishMsgAsync(&nats.Msg{Subject: subject, Data: body, Header: header})
	if err != nil {
		span.RecordError(err)
		metrics.IncBrokerPublished(constants.BrokerNATS, subject, "error", len(body))
		return fmt.Errorf("failed to publish to %q: %w", subject, err)
	}

	metrics.IncBrokerPublished(constants.BrokerNATS, subject, "success", len(body))
	return nil
}

func (p *NATSProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.nc == nil {
		return nil
	}
	select {
	case <-p.js.PublishAsyncComplete():
	case <-time.After(constants.ShutdownTimeout):
		p.logger.Warnw("Timed out waiting for pending nats publish acks")
	}
	return p.nc.Drain()
}
