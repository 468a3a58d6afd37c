package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/illmade-knight/go-mediacache/internal/app"
	"github.com/illmade-knight/go-mediacache/pkg/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	configFlag   string
	logLevelFlag string
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mediacache",
		Short: "Fetch, coalesce and cache remote media",
		Long: `mediacache loads images, thumbnails and files from content stores
(gs://, s3://, file://, mxc://), coalesces concurrent requests and keeps the
results in a memory tier and a persistent disk tier.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level override: debug, info, warn, error")

	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewFetchCmd())
	rootCmd.AddCommand(NewCacheCmd())

	return rootCmd
}

// loadConfig reads configuration and applies command line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, err
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// newLogger writes human-readable output to a terminal and JSON otherwise.
func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	if info, err := os.Stderr.Stat(); err == nil && info.Mode()&os.ModeCharDevice != 0 {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.With().Timestamp().Logger()
}

// withApp loads config, builds the App, runs fn and closes the App.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App, logger zerolog.Logger) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	logger := newLogger(cfg)

	a, err := app.New(ctx, cfg, app.Options{}, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Warn().Err(err).Msg("Error while closing.")
		}
	}()
	return fn(ctx, a, logger)
}
