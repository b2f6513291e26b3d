package main

import (
	"github.com/spf13/cobra"

	"github.com/stewardops/steward/internal/config"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Run the daemon with an interactive local console instead of Telegram",
	Long: `Runs the full pipeline (probes, change detection, escalation) but talks
over stdin/stdout. Useful for development and for driving the assistant
without a bot token.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return runDaemon(cfg, "console")
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}
