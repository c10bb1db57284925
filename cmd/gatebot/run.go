package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Sonnik9/gate-bob-deploy/internal/app"
	"github.com/Sonnik9/gate-bob-deploy/internal/config"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the engine in the configured mode",
	Long: `Start the engine. The mode comes from the config file or GATEBOT_MODE:

  trade   execution engine only
  server  read-only HTTP API (health, status, trades, metrics, /ws)
  full    execution engine plus the HTTP API`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config %s: %w", configFile, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("gatebot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", configFile),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("gatebot stopped")
	return nil
}
