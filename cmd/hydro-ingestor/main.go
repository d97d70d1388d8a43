package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dyadov103/home-hydroponics/internal/config"
	"github.com/dyadov103/home-hydroponics/internal/constants"
	"github.com/dyadov103/home-hydroponics/internal/logger"
	"github.com/dyadov103/home-hydroponics/internal/store"
	"github.com/dyadov103/home-hydroponics/pkg/bootstrap"
	apperrors "github.com/dyadov103/home-hydroponics/pkg/errors"
	"github.com/dyadov103/home-hydroponics/pkg/logging"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:           constants.ServiceIngestor,
		Short:         "Home hydroponics ingestion bridge",
		Long:          "Consumes sensor packets from the queue and stores them in PostgreSQL",
		RunE:          serveCmd().RunE,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (or CONFIG_FILE)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		logging.NewEarlyLog().Error("%v", err)
		if apperrors.IsFatal(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, logger.Logger, error) {
	earlyLog := logging.NewEarlyLog()

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
		if configFile == "" {
			earlyLog.Error("Config file is required. Use --config flag or CONFIG_FILE environment variable")
			return nil, nil, errors.New("config file is required")
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		earlyLog.Error("Failed to load config: %v", err)
		return nil, nil, err
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		earlyLog.Error("Failed to init logger: %v", err)
		return nil, nil, err
	}
	return cfg, log, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume the queue and store sensor packets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.InfowCtx(ctx, "Starting ingestor", "broker", cfg.Broker.Type, "queue", cfg.Broker.Queue)

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.ErrorwCtx(ctx, "Failed to initialize application", "error", err)
				return apperrors.ErrFatal.WithCause(err)
			}

			if err := app.Run(ctx); err != nil {
				log.ErrorwCtx(ctx, "Application error", "error", err)
				return err
			}
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			connector := bootstrap.NewDatabaseConnector(cfg, log)
			db, err := connector.InitPostgreSQL(ctx)
			if err != nil {
				return err
			}
			defer connector.ShutdownDatabase(db)

			if err := store.Migrate(db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.InfowCtx(ctx, "Migrations applied")
			return nil
		},
	}
}
