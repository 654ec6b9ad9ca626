package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store statistics and retention compliance",
	Long: `Display stored volume, execution rate, and whether the store is
within its configured retention windows.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		log := newLogger()

		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		store, backend, err := openHistory(cfg, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer backend.Close()

		stats, err := store.Statistics(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to collect statistics: %v\n", err)
			os.Exit(1)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== Pulse Store Statistics ==="))
		fmt.Printf("  Executions:    %d\n", stats.TotalExecutions)
		fmt.Printf("  Events:        %d\n", stats.TotalEvents)
		fmt.Printf("  Snapshots:     %d\n", stats.TotalSnapshots)
		fmt.Printf("  Relationships: %d\n", stats.TotalRelationships)
		fmt.Println()

		if stats.OldestExecution != nil {
			fmt.Printf("  Oldest execution: %s\n", stats.OldestExecution.Format("2006-01-02 15:04"))
		}
		if stats.NewestExecution != nil {
			fmt.Printf("  Newest execution: %s\n", stats.NewestExecution.Format("2006-01-02 15:04"))
		}
		if stats.AvgExecutionsPerDay > 0 {
			fmt.Printf("  Avg executions/day: %.1f\n", stats.AvgExecutionsPerDay)
		}
		fmt.Printf("  Approx size: %s\n", formatBytes(stats.ApproxSizeBytes))
		fmt.Println()

		if stats.RetentionCompliant {
			fmt.Printf("  Retention: %s (executions %dd, snapshots %dd, events %dd)\n",
				green("compliant"), cfg.ExecutionRetentionDays, cfg.SnapshotRetentionDays, cfg.EventRetentionDays)
		} else {
			fmt.Printf("  Retention: %s\n", red("non-compliant"))
			fmt.Printf("  %s\n", gray("Run 'pulse cleanup' to prune records past the retention window"))
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

// formatBytes renders a byte count with a binary unit suffix
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMG"[exp])
}
