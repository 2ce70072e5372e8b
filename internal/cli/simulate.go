package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"okxwatch/internal/app"
)

var (
	simulateInst   string
	simulatePrices []string
	simulateStep   time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "回放一段价格序列并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateInst == "" || len(simulatePrices) == 0 {
			return errors.New("--inst 与 --prices 必须提供")
		}

		res, err := getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Instrument: simulateInst,
			Prices:     simulatePrices,
			Step:       simulateStep,
		})
		if err != nil {
			return err
		}

		for _, alert := range res.Alerts {
			fmt.Fprintln(cmd.OutOrStdout(), alert.Message())
		}
		if len(res.Alerts) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no alert triggered")
		}
		return nil
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateInst, "inst", "", "Instrument ID, e.g. BTC-USDT")
	simulateCmd.Flags().StringSliceVar(&simulatePrices, "prices", nil, "Comma-separated price path, e.g. 100,100,100,100,200")
	simulateCmd.Flags().DurationVar(&simulateStep, "step", 5*time.Minute, "Time between consecutive prices")
}
