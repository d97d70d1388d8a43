package ingest

import (
	"context"

	apperrors "github.com/dyadov103/home-hydroponics/pkg/errors"
)

type Outcome string

const (
	OutcomeStored      Outcome = "stored"
	OutcomeLogged      Outcome = "logged"
	OutcomeUnsupported Outcome = "unsupported"
	OutcomeInvalid     Outcome = "invalid"
	OutcomeFailed      Outcome = "failed"
	OutcomeDecodeError Outcome = "decode_error"
)

type RouteResult struct {
	Outcome    Outcome
	PacketType string
	Table      string
	Err        error
}

// Router dispatches a decoded packet to exactly one handler. It performs no
// I/O of its own and never lets a handler panic escape.
type Router struct {
	handlers *Handlers
}

func NewRouter(handlers *Handlers) *Router {
	return &Router{handlers: handlers}
}

func (r *Router) Route(ctx context.Context, p Packet) (result RouteResult) {
	defer func() {
		if rec := recover(); rec != nil {
			result = RouteResult{
				Outcome:    OutcomeFailed,
				PacketType: p.PacketType(),
				Err:        apperrors.RecoverPanic(rec),
			}
		}
	}()

	switch pkt := p.(type) {
	case HumidityPacket:
		return r.handlers.Humidity(ctx, pkt)
	case HeartbeatPacket:
		return r.handlers.Heartbeat(ctx, pkt)
	case WaterAckPacket:
		return r.handlers.WaterAck(ctx, pkt)
	case UnsupportedPacket:
		return RouteResult{
			Outcome:    OutcomeUnsupported,
			PacketType: pkt.Type,
			Err:        apperrors.ErrUnsupportedType.WithDetail("type", pkt.Type),
		}
	default:
		return RouteResult{Outcome: OutcomeUnsupported, Err: apperrors.ErrUnsupportedType}
	}
}
