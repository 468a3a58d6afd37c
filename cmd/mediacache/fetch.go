package main

import (
	"context"
	"fmt"
	"os"

	"github.com/illmade-knight/go-mediacache/internal/app"
	"github.com/illmade-knight/go-mediacache/pkg/media"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	widthFlag  uint
	heightFlag uint
	outFlag    string
	mimeFlag   string
)

// NewFetchCmd creates the fetch subcommand.
func NewFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <uri>",
		Short: "Resolve one image through the cache",
		Long: `Resolve one image through the cache. With --width and --height a
thumbnail is fetched, otherwise the full content.`,
		Args: cobra.ExactArgs(1),
		RunE: runFetch,
	}
	cmd.Flags().UintVar(&widthFlag, "width", 0, "Thumbnail width")
	cmd.Flags().UintVar(&heightFlag, "height", 0, "Thumbnail height")
	cmd.Flags().StringVarP(&outFlag, "out", "o", "", "Output file (default: stdout)")
	cmd.Flags().StringVar(&mimeFlag, "mime", "", "Mime type hint")
	return cmd
}

func fetchSize() (*media.Size, error) {
	switch {
	case widthFlag == 0 && heightFlag == 0:
		return nil, nil
	case widthFlag == 0 || heightFlag == 0:
		return nil, fmt.Errorf("--width and --height must be given together")
	default:
		return media.NewSize(widthFlag, heightFlag), nil
	}
}

func runFetch(cmd *cobra.Command, args []string) error {
	src, err := media.ParseSource(args[0], mimeFlag)
	if err != nil {
		return err
	}
	size, err := fetchSize()
	if err != nil {
		return err
	}

	return withApp(cmd.Context(), func(ctx context.Context, a *app.App, logger zerolog.Logger) error {
		data, err := a.Provider.Resolve(ctx, src, size)
		if err != nil {
			return err
		}
		if outFlag == "" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(outFlag, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", outFlag, err)
		}
		logger.Info().Str("out", outFlag).Int("bytes", len(data)).Msg("Media written.")
		return nil
	})
}
