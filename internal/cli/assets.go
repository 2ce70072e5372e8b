package cli

import (
	"github.com/spf13/cobra"
)

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "Show account equity, balances and realised spot PnL",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Assets(cmd.Context())
	},
}
