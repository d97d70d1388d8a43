package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dyadov103/home-hydroponics/internal/config"
	"github.com/dyadov103/home-hydroponics/internal/constants"
	"github.com/dyadov103/home-hydroponics/internal/ingest"
	"github.com/dyadov103/home-hydroponics/internal/logger"
	"github.com/dyadov103/home-hydroponics/internal/store"
	"github.com/dyadov103/home-hydroponics/pkg/bootstrap"
	"github.com/dyadov103/home-hydroponics/pkg/health"
	"github.com/dyadov103/home-hydroponics/pkg/metrics"
	"github.com/dyadov103/home-hydroponics/pkg/retry"
	"github.com/dyadov103/home-hydroponics/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	loop           *ingest.Loop
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceIngestor)
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceIngestor)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	if err := a.initDatabase(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := a.InitConsumer(); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	metrics.RegisterIngestMetrics()
	metrics.RegisterBrokerMetrics()
	metrics.RegisterStoreMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	a.initLoop()
	a.initHTTPServer()

	return nil
}

func (a *App) initDatabase(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	if a.Config.Database.RunMigrations {
		if err := store.Migrate(db); err != nil {
			return err
		}
		a.Logger.InfowCtx(ctx, "Migrations applied")
	}
	return nil
}

func (a *App) initLoop() {
	var st store.Store = store.NewPostgresStore(a.db)
	st = store.NewCircuitBreakerStore(st, a.Config.CircuitBreaker)

	handlers := ingest.NewHandlers(st, a.Logger, ingest.HandlerOptions{
		StoreTimeout: a.Config.Ingest.StoreTimeout,
		StrictFields: a.Config.Ingest.StrictFields,
	})

	a.loop = ingest.NewLoop(a.Consumer, ingest.NewRouter(handlers), a.Logger, ingest.LoopConfig{
		Queue:        a.Config.Broker.Queue,
		Broker:       a.Config.Broker.Type,
		StartupRetry: retryPolicy(a.Config.Broker.StartupRetry),
	})
}

// retryPolicy overlays the configured values on retry.DefaultPolicy. Unset
// fields keep the defaults.
func retryPolicy(cfg config.RetryConfig) retry.Policy {
	policy := retry.DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialInterval > 0 {
		policy.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		policy.MaxInterval = cfg.MaxInterval
	}
	if cfg.Multiplier > 0 {
		policy.Multiplier = cfg.Multiplier
	}
	if cfg.MaxElapsedTime > 0 {
		policy.MaxElapsedTime = cfg.MaxElapsedTime
	}
	return policy
}

func (a *App) initHTTPServer() {
	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	healthRegistry.Register(health.NewFuncChecker("ingest_loop", func(ctx context.Context) error {
		switch s := a.loop.State(); s {
		case ingest.StateListening, ingest.StateProcessing:
			return nil
		default:
			return fmt.Errorf("loop is %s", s)
		}
	}))

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := healthRegistry.Check(r.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(h)
	})
	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      mux,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
}

// Run blocks until ctx is canceled or the loop stops on its own. The loop
// stopping for any reason other than ctx ends the process.
func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	loopDone := make(chan struct{})
	g.Go(func() error {
		defer close(loopDone)
		err := a.loop.Run(gCtx)
		if err == nil && ctx.Err() == nil {
			return errors.New("ingestion loop stopped")
		}
		return err
	})

	g.Go(func() error {
		<-gCtx.Done()
		a.awaitLoop(loopDone)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.ShutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx, a.shutdownResources)
	})

	return g.Wait()
}

// awaitLoop holds shutdown until the message in flight has been stored and
// acked, so the consumer and the pool are not closed underneath it.
func (a *App) awaitLoop(done <-chan struct{}) {
	storeTimeout := a.Config.Ingest.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = constants.DefaultStoreTimeout
	}

	timer := time.NewTimer(storeTimeout + constants.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		a.Logger.Warnw("Ingestion loop did not stop in time, closing resources anyway")
	}
}

func (a *App) shutdownResources(ctx context.Context) []error {
	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
		}
	}

	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
		}
	}

	errs = append(errs, a.dbConnector.ShutdownDatabase(a.db)...)
	return errs
}
