package cli

import (
	"github.com/spf13/cobra"

	"market-pulse/internal/app"
)

var (
	signalsFormat string
	signalsAdvise bool
)

var signalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "Analyse stored quotes and print per-timeframe signals with consensus",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Signals(cmd.Context(), app.SignalsOptions{
			Format: signalsFormat,
			Advise: signalsAdvise,
		})
	},
}

func init() {
	signalsCmd.Flags().StringVar(&signalsFormat, "format", "table", "Output format: table, json or yaml")
	signalsCmd.Flags().BoolVar(&signalsAdvise, "advise", false, "Append the rule-based advisory summary")
}
