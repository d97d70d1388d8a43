package broker

import (
	"context"
	"errors"
)

var (
	ErrNotSubscribed = errors.New("consumer is not subscribed")
	ErrChannelClosed = errors.New("broker delivery channel closed")
)

// Delivery is a single received message. The handle behind it belongs to the
// backend; callers only read the body and acknowledge it once.
type Delivery interface {
	Body() []byte
	ID() string
	// TraceContext returns ctx carrying any remote span context found in the
	// message headers.
	TraceContext(ctx context.Context) context.Context
	Ack(ctx context.Context) error
}

// Handler is invoked once per delivery, sequentially, in receive order.
type Handler func(ctx context.Context, d Delivery)

type Consumer interface {
	// Subscribe connects and declares the queue. Declaration is idempotent.
	Subscribe(ctx context.Context, queue string) error
	// Consume blocks, handing deliveries to handler one at a time until ctx is
	// done or the broker closes the stream.
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

type Producer interface {
	Publish(ctx context.Context, queue string, body []byte) error
	Close() error
}
