package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyadov103/home-hydroponics/internal/config"
	"github.com/dyadov103/home-hydroponics/internal/constants"
	"github.com/dyadov103/home-hydroponics/internal/logger"
	apperrors "github.com/dyadov103/home-hydroponics/pkg/errors"
	"github.com/dyadov103/home-hydroponics/pkg/logging"
	"github.com/dyadov103/home-hydroponics/pkg/models"
)

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

// withApp loads config, wires the requested resources and tears them down
// after fn returns.
func withApp(needs resources, fn func(ctx context.Context, app *App) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app := NewApp(cfg, log)
	if err := initialize(ctx, app, needs); err != nil {
		return err
	}

	runErr := fn(ctx, app)
	if err := shutdown(app); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// initialize releases whatever Initialize opened before it failed.
func initialize(ctx context.Context, app *App, needs resources) error {
	err := app.Initialize(ctx, needs)
	if err == nil {
		return nil
	}
	if shutdownErr := shutdown(app); shutdownErr != nil {
		app.Logger.Warnw("Cleanup after failed initialization", "error", shutdownErr)
	}
	return err
}

func shutdown(app *App) error {
	ctx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()
	return app.Shutdown(ctx, app.shutdownResources)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func checkTablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-tables",
		Short: "Create missing sensor tables and report structural mismatches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(needDatabase, func(ctx context.Context, app *App) error {
				return printJSON(cmd, app.service.CheckTables(ctx))
			})
		},
	}
}

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <message>",
		Short: "Publish a raw message onto the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(needBroker, func(ctx context.Context, app *App) error {
				if err := app.service.Send(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sent %d bytes to %s\n", len(args[0]), app.Config.Broker.Queue)
				return nil
			})
		},
	}
}

func syntheticCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "synthetic <type>",
		Short:     "Publish a generated packet of the given type",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: models.SupportedTypes,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(needBroker, func(ctx context.Context, app *App) error {
				var (
					msg interface{}
					err error
				)
				switch args[0] {
				case models.TypeHumidity:
					msg, err = app.service.SendSyntheticHumidity(ctx)
				case models.TypeHeartbeat:
					msg, err = app.service.SendSyntheticHeartbeat(ctx)
				case models.TypeWaterAck:
					msg, err = app.service.SendWaterAck(ctx)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd, msg)
			})
		},
	}
}

func spamCmd() *cobra.Command {
	var (
		count  int
		settle time.Duration
	)

	cmd := &cobra.Command{
		Use:   "spam",
		Short: "Publish random humidity packets and report packet loss",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(needDatabase|needBroker, func(ctx context.Context, app *App) error {
				n := count
				if n == 0 {
					n = app.Config.Control.SpamCount
				}
				wait := settle
				if !cmd.Flags().Changed("settle") {
					wait = app.Config.Control.Settle
				}

				report, err := app.service.Spam(ctx, n, wait)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			})
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "Number of packets to publish (default control.spam_count)")
	cmd.Flags().DurationVar(&settle, "settle", 0, "Time to wait for the ingestor before recounting (default control.settle)")
	return cmd
}

func countCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count <table>",
		Short: "Print the row count of a sensor table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(needDatabase, func(ctx context.Context, app *App) error {
				rows, err := app.service.Count(ctx, args[0])
				if apperrors.IsNotFound(err) {
					return fmt.Errorf("%w (known tables: %s, %s)", err, constants.TableHumidity, constants.TableHeartbeat)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", args[0], rows)
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Expose the console operations over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(needDatabase|needBroker|needHTTP, func(ctx context.Context, app *App) error {
				return app.Serve(ctx)
			})
		},
	}
}
