package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"okxwatch/internal/app"
)

var (
	showLimit  int
	showInst   string
	showAlerts bool
	showPrune  time.Duration
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent archived samples or alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Instrument:  showInst,
			Limit:       showLimit,
			Alerts:      showAlerts,
			PruneAlerts: showPrune,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().StringVar(&showInst, "inst", "", "Only show samples for this instrument")
	showCmd.Flags().BoolVar(&showAlerts, "alerts", false, "Show recent alerts instead of samples")
	showCmd.Flags().DurationVar(&showPrune, "prune-alerts", 0, "Delete archived alerts older than this age before listing")
}
