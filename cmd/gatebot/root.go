package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sonnik9/gate-bob-deploy/internal/config"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "gatebot",
	Short: "Gate futures signal execution engine",
	Long: `gatebot opens, protects and closes Gate USDT-settled futures positions
from parsed trade signals.

Examples:
  gatebot run --config config.toml
  gatebot config --config config.toml
  gatebot encrypt-secret --out secret.json`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "config.toml", "path to configuration file")
}

// newLogger builds the process logger from the configured level and format.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if cfg.LogJSON {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(h)
}
