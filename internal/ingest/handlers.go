package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/dyadov103/home-hydroponics/internal/constants"
	"github.com/dyadov103/home-hydroponics/internal/logger"
	"github.com/dyadov103/home-hydroponics/internal/store"
	apperrors "github.com/dyadov103/home-hydroponics/pkg/errors"
	"github.com/dyadov103/home-hydroponics/pkg/models"
)

type HandlerOptions struct {
	StoreTimeout time.Duration
	StrictFields bool
	Now          func() time.Time
}

// Handlers normalize packets into store records. Store errors come back as
// OutcomeFailed and are never retried.
type Handlers struct {
	store  store.Store
	logger logger.Logger
	opts   HandlerOptions
}

func NewHandlers(st store.Store, log logger.Logger, opts HandlerOptions) *Handlers {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = constants.DefaultStoreTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handlers{store: st, logger: log, opts: opts}
}

func (h *Handlers) Humidity(ctx context.Context, p HumidityPacket) RouteResult {
	result := RouteResult{PacketType: models.TypeHumidity, Table: constants.TableHumidity}

	if h.opts.StrictFields {
		if err := models.ValidateHumidity(&p.HumidityMessage); err != nil {
			result.Outcome, result.Err = OutcomeInvalid, apperrors.ErrValidation.WithCause(err)
			return result
		}
	}

	reading := store.HumidityReading{
		Zones:      p.Zones(),
		Serial:     p.Serial,
		ReceivedAt: h.opts.Now(),
	}

	return h.write(ctx, result, func(ctx context.Context) error {
		return h.store.InsertHumidity(ctx, reading)
	})
}

func (h *Handlers) Heartbeat(ctx context.Context, p HeartbeatPacket) RouteResult {
	result := RouteResult{PacketType: models.TypeHeartbeat, Table: constants.TableHeartbeat}

	if h.opts.StrictFields {
		if err := models.ValidateHeartbeat(&p.HeartbeatMessage); err != nil {
			result.Outcome, result.Err = OutcomeInvalid, apperrors.ErrValidation.WithCause(err)
			return result
		}
	}

	reading := store.HeartbeatReading{
		Battery:     p.Battery,
		DevTime:     ParseDevTime(p.DevTime),
		Temperature: p.Temperature,
		DevHumidity: p.DevHumidity,
		Serial:      p.Serial,
		ReceivedAt:  h.opts.Now(),
	}

	return h.write(ctx, result, func(ctx context.Context) error {
		return h.store.InsertHeartbeat(ctx, reading)
	})
}

// WaterAck has no storage; the log line is the event.
func (h *Handlers) WaterAck(ctx context.Context, _ WaterAckPacket) RouteResult {
	h.logger.InfowCtx(ctx, "The plants have been watered")
	return RouteResult{Outcome: OutcomeLogged, PacketType: models.TypeWaterAck}
}

// write runs the insert under the store timeout and returns once the timeout
// fires even if the store ignores its context. The caller's cancellation is
// detached so a message already being stored finishes during shutdown.
func (h *Handlers) write(ctx context.Context, result RouteResult, insert func(ctx context.Context) error) RouteResult {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.opts.StoreTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- apperrors.RecoverPanic(rec)
			}
		}()
		done <- insert(storeCtx)
	}()

	err := awaitInsert(storeCtx, done)
	if err == nil {
		result.Outcome = OutcomeStored
		return result
	}

	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, apperrors.ErrTimeout) {
		err = apperrors.ErrTimeout.WithCause(err)
	}
	result.Outcome, result.Err = OutcomeFailed, err
	return result
}

// awaitInsert returns the insert result, or the context error once ctx ends.
// A result that is already available when the deadline fires still wins.
func awaitInsert(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		select {
		case err := <-done:
			return err
		default:
			return ctx.Err()
		}
	}
}
