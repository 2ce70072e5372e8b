package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"okxwatch/internal/app"
	"okxwatch/internal/config"
	"okxwatch/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	itemsFile string
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:   "okxwatch",
	Short: "Watch OKX spot prices and alert on 30-minute moves",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if itemsFile != "" {
			cfg.Instruments.File = itemsFile
			cfg.Instruments.List = nil
		}
		// stdout belongs to command output for everything but the service.
		if cmd.Name() != runCmd.Name() {
			cfg.Logging.Output = "stderr"
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger)
		appHandle.Out = cmd.OutOrStdout()
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")
	rootCmd.PersistentFlags().StringVar(&itemsFile, "items", "", "Instrument list file, one instId per line (overrides config)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(pricesCmd)
	rootCmd.AddCommand(chartCmd)
	rootCmd.AddCommand(assetsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(simulateCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
