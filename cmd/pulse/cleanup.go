package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var cleanupRetentionDays int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune records past their retention windows",
	Long: `Delete executions, snapshots, and events older than their
configured retention windows. Running cleanup twice in a row deletes
nothing the second time.

Examples:
  pulse cleanup                       # Use configured retention (90 days)
  pulse cleanup --retention-days 30   # Override execution retention`,
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

		deleted, err := store.Cleanup(ctx, cleanupRetentionDays)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cleanup failed: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Cleanup complete: %d record(s) deleted\n", green("✓"), deleted)
	},
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupRetentionDays, "retention-days", 0, "Override execution retention window (0 uses config)")
	rootCmd.AddCommand(cleanupCmd)
}
