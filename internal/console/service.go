package console

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dyadov103/home-hydroponics/internal/broker"
	"github.com/dyadov103/home-hydroponics/internal/constants"
	"github.com/dyadov103/home-hydroponics/internal/logger"
	"github.com/dyadov103/home-hydroponics/internal/store"
	apperrors "github.com/dyadov103/home-hydroponics/pkg/errors"
	"github.com/dyadov103/home-hydroponics/pkg/metrics"
	"github.com/dyadov103/home-hydroponics/pkg/models"
)

type service struct {
	producer broker.Producer
	counter  store.Counter
	schema   SchemaChecker
	queue    string
	logger   logger.Logger

	genMu     sync.Mutex
	generator *models.PacketGenerator
}

type ServiceOption func(*service)

func WithGenerator(g *models.PacketGenerator) ServiceOption {
	return func(s *service) {
		s.generator = g
	}
}

func WithQueue(queue string) ServiceOption {
	return func(s *service) {
		if queue != "" {
			s.queue = queue
		}
	}
}

func NewService(producer broker.Producer, counter store.Counter, schema SchemaChecker, log logger.Logger, opts ...ServiceOption) Service {
	s := &service{
		producer:  producer,
		counter:   counter,
		schema:    schema,
		queue:     constants.DefaultQueue,
		logger:    log,
		generator: models.NewRandomPacketGenerator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) CheckTables(ctx context.Context) []store.TableReport {
	return s.schema.CheckAndCreate(ctx)
}

// Send publishes message as-is. The body is not required to be valid JSON;
// the ingestor will drop it as malformed if it is not.
func (s *service) Send(ctx context.Context, message string) error {
	if message == "" {
		return apperrors.ErrValidation.WithDetail("message", "message must not be empty")
	}
	if err := s.producer.Publish(ctx, s.queue, []byte(message)); err != nil {
		return apperrors.ErrServiceUnavailable.WithCause(err)
	}
	s.logger.InfowCtx(ctx, "Message published", "queue", s.queue, "size_bytes", len(message))
	return nil
}

func (s *service) SendSyntheticHumidity(ctx context.Context) (*models.HumidityMessage, error) {
	msg := s.nextHumidity()
	if err := s.publishPacket(ctx, msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendSyntheticHeartbeat publishes a random heartbeat with the current time
// as dev_time.
func (s *service) SendSyntheticHeartbeat(ctx context.Context) (*models.HeartbeatMessage, error) {
	s.genMu.Lock()
	msg := s.generator.Heartbeat(time.Now())
	s.genMu.Unlock()

	if err := s.publishPacket(ctx, msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *service) SendWaterAck(ctx context.Context) (*models.WaterAckMessage, error) {
	msg := models.NewWaterAckMessage()
	if err := s.publishPacket(ctx, msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *service) publishPacket(ctx context.Context, packet interface{}) error {
	body, err := json.Marshal(packet)
	if err != nil {
		return apperrors.ErrInternal.WithCause(err)
	}
	if err := s.producer.Publish(ctx, s.queue, body); err != nil {
		return apperrors.ErrServiceUnavailable.WithCause(err)
	}
	return nil
}

// Spam publishes count random humidity packets and reports how many of them
// reached humidity_data after settle has elapsed. Rows written by anything
// else during the run count as delivered.
func (s *service) Spam(ctx context.Context, count int, settle time.Duration) (*SpamReport, error) {
	if count < 1 {
		return nil, apperrors.ErrValidation.WithDetail("message", "count must be at least 1")
	}

	start := time.Now()
	report := &SpamReport{Requested: count}

	before, err := s.counter.CountRows(ctx, constants.TableHumidity)
	if err != nil {
		return nil, fmt.Errorf("count before spam: %w", err)
	}
	report.RowsBefore = before

	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg := s.nextHumidity()
		body, err := json.Marshal(msg)
		if err != nil {
			return nil, apperrors.ErrInternal.WithCause(err)
		}
		if err := s.producer.Publish(ctx, s.queue, body); err != nil {
			report.PublishErrors++
			s.logger.WarnwCtx(ctx, "Failed to publish spam packet", "index", i, "error", err)
			continue
		}
		report.Published++
	}

	if settle > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(settle):
		}
	}

	after, err := s.counter.CountRows(ctx, constants.TableHumidity)
	if err != nil {
		return nil, fmt.Errorf("count after spam: %w", err)
	}
	report.RowsAfter = after
	report.LossPercent = PacketLoss(before, after, count)
	report.Duration = time.Since(start)

	metrics.SetPacketLoss(report.LossPercent)
	s.logger.InfowCtx(ctx, "Spam finished",
		"requested", report.Requested,
		"published", report.Published,
		"publish_errors", report.PublishErrors,
		"rows_before", report.RowsBefore,
		"rows_after", report.RowsAfter,
		"packet_loss_percent", report.LossPercent,
		"duration", report.Duration,
	)

	return report, nil
}

func (s *service) Count(ctx context.Context, table string) (int64, error) {
	return s.counter.CountRows(ctx, table)
}

func (s *service) nextHumidity() models.HumidityMessage {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.generator.Humidity()
}

// PacketLoss returns the share of sent packets that did not produce a row, in
// percent.
func PacketLoss(before, after int64, sent int) float64 {
	if sent <= 0 {
		return 0
	}
	return (1 - float64(after-before)/float64(sent)) * 100
}
