package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker"

	"github.com/dyadov103/home-hydroponics/internal/config"
	"github.com/dyadov103/home-hydroponics/pkg/circuitbreaker"
	apperrors "github.com/dyadov103/home-hydroponics/pkg/errors"
)

const breakerName = "postgres-store"

// CircuitBreakerStore fails fast while Postgres is unavailable. A rejected
// call is still a storage failure to the caller.
type CircuitBreakerStore struct {
	store Store
	cb    *circuitbreaker.Wrapper
}

func NewCircuitBreakerStore(store Store, cfg config.CircuitBreakerConfig) *CircuitBreakerStore {
	if !cfg.Enabled {
		return &CircuitBreakerStore{store: store}
	}

	cbConfig := circuitbreaker.DefaultConfig(breakerName)
	cbConfig.IsSuccessful = breakerIgnores
	if cfg.MaxRequests > 0 {
		cbConfig.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		cbConfig.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		cbConfig.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
		cbConfig.ReadyToTrip = func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		}
	}

	return &CircuitBreakerStore{store: store, cb: circuitbreaker.NewWrapper(cbConfig)}
}

// rowLevelClasses are SQLSTATE classes caused by the values in one row. A
// stream of malformed packets must not open the breaker for healthy ones.
var rowLevelClasses = map[string]bool{
	dataExceptionClass:               true,
	"integrity_constraint_violation": true,
}

func breakerIgnores(err error) bool {
	if err == nil {
		return true
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		class, _ := appErr.Details["pg_class"].(string)
		return rowLevelClasses[class]
	}
	return false
}

func (s *CircuitBreakerStore) InsertHumidity(ctx context.Context, r HumidityReading) error {
	return s.execute(ctx, func() error { return s.store.InsertHumidity(ctx, r) })
}

func (s *CircuitBreakerStore) InsertHeartbeat(ctx context.Context, r HeartbeatReading) error {
	return s.execute(ctx, func() error { return s.store.InsertHeartbeat(ctx, r) })
}

func (s *CircuitBreakerStore) execute(ctx context.Context, fn func() error) error {
	if s.cb == nil {
		return fn()
	}

	err := s.cb.Execute(ctx, fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperrors.ErrStore.WithCause(fmt.Errorf("circuit breaker %s: %w", breakerName, err))
	}
	return err
}

func (s *CircuitBreakerStore) State() string {
	if s.cb == nil {
		return "disabled"
	}
	return s.cb.State().String()
}

func (s *CircuitBreakerStore) IsOpen() bool {
	if s.cb == nil {
		return false
	}
	return s.cb.IsOpen()
}
