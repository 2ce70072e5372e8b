package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"okxwatch/internal/app"
	"okxwatch/internal/fetcher"
)

var (
	backfillBar     string
	backfillLimit   int
	backfillDryRun  bool
	backfillWorkers int
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Seed the archive with recent candle closes",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillLimit < 1 || backfillLimit > fetcher.MaxCandleLimit {
			return fmt.Errorf("--limit must be between 1 and %d", fetcher.MaxCandleLimit)
		}

		opts := app.BackfillOptions{
			Bar:     backfillBar,
			Limit:   backfillLimit,
			DryRun:  backfillDryRun,
			Workers: backfillWorkers,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillBar, "bar", "", "Candle period (defaults to config)")
	backfillCmd.Flags().IntVar(&backfillLimit, "limit", fetcher.MaxCandleLimit, "Candles per instrument")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Run without writing to storage")
	backfillCmd.Flags().IntVar(&backfillWorkers, "workers", 2, "Number of concurrent workers")
}
