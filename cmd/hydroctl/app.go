package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/dyadov103/home-hydroponics/internal/config"
	"github.com/dyadov103/home-hydroponics/internal/console"
	"github.com/dyadov103/home-hydroponics/internal/constants"
	"github.com/dyadov103/home-hydroponics/internal/logger"
	"github.com/dyadov103/home-hydroponics/internal/store"
	"github.com/dyadov103/home-hydroponics/pkg/bootstrap"
	"github.com/dyadov103/home-hydroponics/pkg/health"
	"github.com/dyadov103/home-hydroponics/pkg/metrics"
	"github.com/dyadov103/home-hydroponics/pkg/middleware"
	"github.com/dyadov103/home-hydroponics/pkg/ratelimit"
	"github.com/dyadov103/home-hydroponics/pkg/tracing"
)

type resources int

const (
	needDatabase resources = 1 << iota
	needBroker
	needHTTP
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	service        console.Service
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceConsole)
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

// Initialize connects only what the command needs. The console service is
// always built; calls that reach a missing dependency fail with
// ErrServiceUnavailable.
func (a *App) Initialize(ctx context.Context, needs resources) error {
	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceConsole)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterBrokerMetrics()
	metrics.RegisterStoreMetrics()
	metrics.RegisterConsoleMetrics()

	var counter store.Counter = unavailable{}
	var schema console.SchemaChecker = unavailable{}
	if needs&needDatabase != 0 {
		db, err := a.dbConnector.InitPostgreSQL(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		a.db = db
		counter = store.NewPostgresStore(db)
		schema = store.NewSchemaManager(db, a.Logger)
	}

	if needs&needBroker != 0 {
		if err := a.InitProducer(); err != nil {
			return fmt.Errorf("failed to initialize broker: %w", err)
		}
	} else {
		a.Producer = unavailable{}
	}

	a.service = console.NewService(a.Producer, counter, schema, a.Logger, console.WithQueue(a.Config.Broker.Queue))

	if needs&needHTTP != 0 {
		a.initHTTPServer(ctx)
	}
	return nil
}

func (a *App) initHTTPServer(ctx context.Context) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceConsole))
	}
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))

	if a.Config.Control.RateLimit.Enabled {
		router.Use(ratelimit.RateLimitMiddleware(ctx, a.Config.Control.RateLimit))
		a.Logger.InfowCtx(ctx, "Rate limiting enabled",
			"rps", a.Config.Control.RateLimit.RPS,
			"burst", a.Config.Control.RateLimit.Burst,
		)
	}

	handler := console.NewHandler(a.service, a.Logger, a.Config.Control.SpamCount, a.Config.Control.Settle)
	handler.RegisterRoutes(router)

	healthRegistry := health.NewCheckerRegistry()
	if a.db != nil {
		healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	}

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	a.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", a.Config.Control.Port),
		Handler:     router,
		ReadTimeout: a.Config.Server.ReadTimeout,
	}
}

func (a *App) Serve(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		a.Logger.InfowCtx(ctx, "Control API listening", "port", a.Config.Control.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errChan:
		return err
	}
}

func (a *App) shutdownResources(ctx context.Context) []error {
	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
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
