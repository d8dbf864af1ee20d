package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sitesmith/sitesmith/server/internal/app"
	"github.com/sitesmith/sitesmith/server/internal/config"
	"github.com/sitesmith/sitesmith/server/internal/events"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [config-file]",
		Short: "Start the server (default when no subcommand is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRun,
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, configPath, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	// Warnings and errors are mirrored onto the bus for the admin event stream.
	bus := events.New()
	logger := slog.New(events.NewSlogHandler(newLogHandler(cfg.Logging, os.Stdout), bus, slog.LevelWarn))
	slog.SetDefault(logger)

	a, err := app.New(cfg, bus, logger)
	if err != nil {
		logger.Error("failed to initialize server", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("sitesmith starting", "version", version, "config", configPath)

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

// loadConfig reads .env (outside production) and the resolved config file.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, string, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, "", err
	}
	configPath := resolveConfigPath(cmd, args)
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("error: %w", err)
	}
	return cfg, configPath, nil
}

func newLogHandler(cfg config.LoggingConfig, w io.Writer) slog.Handler {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}
