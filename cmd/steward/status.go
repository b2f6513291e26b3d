package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/stewardops/steward/internal/config"
	"github.com/stewardops/steward/internal/lifecycle"
	"github.com/stewardops/steward/internal/memory"
	"github.com/stewardops/steward/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon state from the state directory",
	Long:  `Reads the run marker, ops log, and event audit trail without touching the running daemon.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== Steward Status ==="))

		marker := lifecycle.NewRunMarker(cfg.RunMarkerPath())
		if running, startedAt := marker.CheckStale(); running {
			if startedAt.IsZero() {
				fmt.Printf("%s daemon marker present\n", green("●"))
			} else {
				fmt.Printf("%s daemon marker present (started %s, up %v)\n",
					green("●"), startedAt.Format("2006-01-02 15:04:05"),
					time.Since(startedAt).Round(time.Second))
			}
		} else {
			fmt.Printf("%s daemon not running\n", gray("○"))
		}
		fmt.Println()

		opsLog, err := memory.NewOpsLog(cfg.OpsLogPath(), memory.Options{Retention: cfg.EventRetention()})
		if err != nil {
			fmt.Printf("%s ops log unavailable: %v\n", red("!"), err)
		} else if doc, err := opsLog.Read(); err == nil {
			fmt.Printf("%s\n%s\n", yellow("Ops Log:"), doc)
		}

		store, err := storage.Open(cfg.StorePath())
		if err != nil {
			fmt.Printf("%s event store unavailable: %v\n", red("!"), err)
			return nil
		}
		defer func() { _ = store.Close() }()

		events, err := store.RecentEvents(context.Background(), 10)
		if err != nil {
			fmt.Printf("%s failed to read events: %v\n", red("!"), err)
			return nil
		}
		fmt.Printf("%s\n", yellow("Recent detected changes:"))
		if len(events) == 0 {
			fmt.Printf("  %s\n", gray("none recorded"))
			return nil
		}
		for _, e := range events {
			fmt.Printf("  %s  %s %s: %s -> %s\n",
				e.CreatedAt.Format("01-02 15:04"), gray(e.Kind), e.Metric, e.OldValue, e.NewValue)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
