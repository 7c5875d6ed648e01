package commands

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ashare_backend/config"
)

const version = "1.0.0"

var (
	logLevel string
)

// rootCmd runs the API server when called without a subcommand
var rootCmd = &cobra.Command{
	Use:   "ashare-backend",
	Short: "A-share market data backend",
	Long: `Incremental A-share market-data sync backend.

Pulls daily or minute bars from the upstream quote provider, upserts them into
stock_daily_history and stock_daily_basic, and exposes admin endpoints to
trigger and monitor sync runs.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServer,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")
}

// loadConfig reads the environment and builds the process logger.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, config.NewLogger(cfg.LogLevel, cfg.LogFormat), nil
}
