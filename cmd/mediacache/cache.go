package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/illmade-knight/go-mediacache/internal/app"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewCacheCmd creates the cache subcommand.
func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage cached media",
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached entry",
		Args:  cobra.NoArgs,
		RunE:  runCacheClear,
	}
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Args:  cobra.NoArgs,
		RunE:  runCacheStats,
	}

	cmd.AddCommand(clearCmd, statsCmd)
	return cmd
}

func runCacheClear(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App, _ zerolog.Logger) error {
		if err := a.Tiers.Clear(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "All cache entries cleared")
		return nil
	})
}

func runCacheStats(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App, _ zerolog.Logger) error {
		tiers, err := a.Tiers.Stats(ctx)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(tiers))
		for name := range tiers {
			names = append(names, name)
		}
		sort.Strings(names)

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Cache Statistics:")
		for _, name := range names {
			fmt.Fprintf(out, "  %-7s %6d items  %s\n", name+":", tiers[name].Entries, formatSize(tiers[name].Bytes))
		}
		fmt.Fprintf(out, "  Disk:   %s\n", a.Config.Cache.DiskPath)
		return nil
	})
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
