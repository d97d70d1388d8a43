package ingest

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dyadov103/home-hydroponics/internal/broker"
	"github.com/dyadov103/home-hydroponics/internal/constants"
	"github.com/dyadov103/home-hydroponics/internal/logger"
	apperrors "github.com/dyadov103/home-hydroponics/pkg/errors"
	"github.com/dyadov103/home-hydroponics/pkg/logging"
	"github.com/dyadov103/home-hydroponics/pkg/metrics"
	"github.com/dyadov103/home-hydroponics/pkg/retry"
	"github.com/dyadov103/home-hydroponics/pkg/tracing"
)

type State int32

const (
	StateDisconnected State = iota
	StateSubscribing
	StateListening
	StateProcessing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateSubscribing:
		return "subscribing"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const ackTimeout = 5 * time.Second

type LoopConfig struct {
	Queue        string
	Broker       string
	StartupRetry retry.Policy
}

// Loop owns subscribe, receive, route and acknowledge. It is the only place
// that acknowledges a delivery, always after routing has returned.
type Loop struct {
	consumer broker.Consumer
	router   *Router
	logger   logger.Logger
	cfg      LoopConfig
	state    atomic.Int32
}

func NewLoop(consumer broker.Consumer, router *Router, log logger.Logger, cfg LoopConfig) *Loop {
	if cfg.Queue == "" {
		cfg.Queue = constants.DefaultQueue
	}
	if cfg.StartupRetry.MaxAttempts <= 0 {
		cfg.StartupRetry = retry.Once()
	}
	return &Loop{consumer: consumer, router: router, logger: log, cfg: cfg}
}

func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
	metrics.SetLoopState(int(s))
}

// Run subscribes and then processes deliveries until ctx is done. A subscribe
// failure that outlasts the startup retry policy is fatal. Returning after ctx
// cancellation is not an error.
func (l *Loop) Run(ctx context.Context) error {
	l.setState(StateSubscribing)

	err := retry.Retry(ctx, l.cfg.StartupRetry, func() error {
		return l.consumer.Subscribe(ctx, l.cfg.Queue)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(constants.ServiceIngestor, "subscribe").Inc()
		l.logger.Warnw("Retrying broker subscription",
			"attempt", attempt,
			"max_attempts", l.cfg.StartupRetry.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
		)
	})
	if err != nil {
		if ctx.Err() != nil {
			l.setState(StateDisconnected)
			return nil
		}
		l.setState(StateFailed)
		return apperrors.ErrFatal.
			WithCause(err).
			WithDetail("message", fmt.Sprintf("failed to subscribe to queue %q", l.cfg.Queue))
	}

	l.setState(StateListening)
	l.logger.Infow("Subscribed to queue", "queue", l.cfg.Queue, "broker", l.cfg.Broker)

	err = l.consumer.Consume(ctx, l.handle)
	l.setState(StateDisconnected)

	if ctx.Err() != nil {
		l.logger.Infow("Stopped consuming", "queue", l.cfg.Queue, "reason", "context canceled")
		return nil
	}
	return fmt.Errorf("consumer stopped on queue %q: %w", l.cfg.Queue, err)
}

func (l *Loop) handle(ctx context.Context, d broker.Delivery) {
	start := time.Now()
	l.setState(StateProcessing)
	defer l.setState(StateListening)

	msgCtx, span := tracing.StartConsumeSpan(d.TraceContext(ctx), l.cfg.Broker, l.cfg.Queue)
	defer span.End()

	msgCtx = logging.WithMessageID(msgCtx, d.ID())
	if sc := span.SpanContext(); sc.HasTraceID() {
		msgCtx = logging.WithTraceID(msgCtx, sc.TraceID().String())
	}

	l.logger.DebugwCtx(msgCtx, "Received message", "size_bytes", len(d.Body()))

	result := l.process(msgCtx, d.Body())
	if result.Err != nil {
		span.RecordError(result.Err)
	}
	l.logResult(msgCtx, result, d.Body())

	metrics.IncIngestMessage(packetLabel(result), string(result.Outcome))
	metrics.ObserveIngestDuration(string(result.Outcome), time.Since(start))

	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(msgCtx), ackTimeout)
	defer cancel()

	if err := d.Ack(ackCtx); err != nil {
		metrics.IncAck("error")
		l.logger.ErrorwCtx(msgCtx, "Failed to acknowledge message", "error", err)
		return
	}
	metrics.IncAck("success")
}

func (l *Loop) process(ctx context.Context, body []byte) RouteResult {
	pkt, err := Decode(body)
	if err != nil {
		return RouteResult{Outcome: OutcomeDecodeError, Err: err}
	}
	return l.router.Route(logging.WithPacketType(ctx, pkt.PacketType()), pkt)
}

func (l *Loop) logResult(ctx context.Context, result RouteResult, body []byte) {
	if result.PacketType != "" {
		ctx = logging.WithPacketType(ctx, result.PacketType)
	}
	fields := []interface{}{"outcome", string(result.Outcome)}
	if result.Table != "" {
		fields = append(fields, "table", result.Table)
	}
	if result.Err != nil {
		fields = append(fields, "error", result.Err)
	}

	switch result.Outcome {
	case OutcomeStored:
		l.logger.InfowCtx(ctx, "Saved packet into DB", fields...)
	case OutcomeLogged:
		l.logger.InfowCtx(ctx, "Packet handled without storage", fields...)
	case OutcomeUnsupported:
		l.logger.WarnwCtx(ctx, "Received an unsupported packet type", fields...)
	case OutcomeInvalid:
		l.logger.WarnwCtx(ctx, "Packet failed validation, dropping", fields...)
	case OutcomeDecodeError:
		l.logger.ErrorwCtx(ctx, "Malformed message, dropping", append(fields, "body", truncate(body, 256))...)
	default:
		l.logger.ErrorwCtx(ctx, "Error while storing to DB", fields...)
	}
}

// packetLabel keeps metric cardinality bounded to the known types.
func packetLabel(result RouteResult) string {
	switch result.Outcome {
	case OutcomeDecodeError:
		return "none"
	case OutcomeUnsupported:
		return "unsupported"
	default:
		return result.PacketType
	}
}

func truncate(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	return string(body[:n]) + "..."
}
