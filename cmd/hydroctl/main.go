package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dyadov103/home-hydroponics/internal/constants"
	"github.com/dyadov103/home-hydroponics/pkg/logging"
)

var configFile string

// @title           Home Hydroponics Control API
// @version         1.0
// @description     Operator console for the home hydroponics bridge: table checks, test messages and packet loss measurement

// @BasePath  /api/v1

// @schemes   http

func main() {
	rootCmd := &cobra.Command{
		Use:           constants.ServiceConsole,
		Short:         "Operator console for the home hydroponics bridge",
		Long:          "Checks tables, publishes test messages and measures packet loss",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (or CONFIG_FILE)")

	rootCmd.AddCommand(
		checkTablesCmd(),
		sendCmd(),
		syntheticCmd(),
		spamCmd(),
		countCmd(),
		serveCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		logging.NewEarlyLog().Error("%v", err)
		os.Exit(1)
	}
}
