package cli

import (
	"github.com/spf13/cobra"

	"okxwatch/internal/app"
)

var (
	chartInst  string
	chartBar   string
	chartLimit int
	chartPNG   string
)

var chartCmd = &cobra.Command{
	Use:   "chart",
	Short: "Render a candle chart for one instrument as PNG",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Chart(cmd.Context(), app.ChartOptions{
			Instrument: chartInst,
			Bar:        chartBar,
			Limit:      chartLimit,
			PNGPath:    chartPNG,
		})
	},
}

func init() {
	chartCmd.Flags().StringVar(&chartInst, "inst", "", "Instrument ID, e.g. BTC-USDT")
	chartCmd.Flags().StringVar(&chartBar, "bar", "", "Candle period (defaults to config)")
	chartCmd.Flags().IntVar(&chartLimit, "limit", 0, "Number of candles, max 100 (defaults to config)")
	chartCmd.Flags().StringVar(&chartPNG, "png", "chart.png", "Path to write PNG chart")
}
