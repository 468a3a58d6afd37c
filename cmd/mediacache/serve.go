package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/illmade-knight/go-mediacache/internal/app"
	"github.com/illmade-knight/go-mediacache/pkg/microservice"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var addrFlag string

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve cached media over HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().StringVar(&addrFlag, "addr", "", "Listen address override, e.g. :8080")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return withApp(ctx, func(ctx context.Context, a *app.App, logger zerolog.Logger) error {
		httpCfg := a.Config.HTTP
		if addrFlag != "" {
			httpCfg.Addr = addrFlag
		}
		svc := microservice.NewMediaService(microservice.ServerConfig{
			Addr:           httpCfg.Addr,
			AllowedOrigins: httpCfg.AllowedOrigins,
		}, a.Provider, a.Stats, httpCfg.RequestTimeout, logger)
		if err := svc.Start(); err != nil {
			return err
		}
		logger.Info().Msg("Media cache service running.")

		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return svc.Shutdown(shutdownCtx)
	})
}
