package cli

import (
	"github.com/spf13/cobra"

	"market-pulse/internal/app"
)

var (
	backfillSymbols  []string
	backfillInterval string
	backfillRange    string
	backfillDryRun   bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Backfill historical bars from the Yahoo chart endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.BackfillOptions{
			Symbols:  backfillSymbols,
			Interval: backfillInterval,
			Range:    backfillRange,
			DryRun:   backfillDryRun,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().StringSliceVar(&backfillSymbols, "symbols", nil, "Symbols to backfill (defaults to config)")
	backfillCmd.Flags().StringVar(&backfillInterval, "interval", "1m", "Bar interval requested from the provider")
	backfillCmd.Flags().StringVar(&backfillRange, "range", "5d", "History range requested from the provider")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Run without writing to storage")
}
