package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"market-pulse/internal/app"
)

var (
	simulateCycles int
	simulateSeed   int64
	simulateStep   time.Duration
	simulateFormat string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "用随机游走行情离线跑一遍采集与信号分析",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateCycles <= 0 {
			return errors.New("--cycles 必须大于 0")
		}
		if simulateStep <= 0 {
			return errors.New("--step 必须大于 0")
		}

		return getApp().Simulate(cmd.Context(), app.SimulateOptions{
			Cycles: simulateCycles,
			Seed:   simulateSeed,
			Step:   simulateStep,
			Format: simulateFormat,
		})
	},
}

func init() {
	simulateCmd.Flags().IntVar(&simulateCycles, "cycles", 300, "模拟采集轮数")
	simulateCmd.Flags().Int64Var(&simulateSeed, "seed", 1, "随机种子")
	simulateCmd.Flags().DurationVar(&simulateStep, "step", time.Minute, "每轮推进的行情时间")
	simulateCmd.Flags().StringVar(&simulateFormat, "format", "table", "Output format: table, json or yaml")
}
