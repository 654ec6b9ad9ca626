package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/testpulse/pulse/internal/tracker"
)

var obsoleteCmd = &cobra.Command{
	Use:   "obsolete <entity-id>",
	Short: "Find tests of an entity that may be obsolete",
	Long: `Inspect the tests with an active relationship to an entity for
obsolescence signals: no recent executions, near-zero coverage, or a
pass rate so high the test may no longer discriminate.

Example:
  pulse obsolete internal/parser`,
	Args: cobra.ExactArgs(1),
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

		trk := tracker.New(store, cfg, log)
		candidates, err := trk.DetectObsolescence(ctx, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: obsolescence scan failed: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		if len(candidates) == 0 {
			fmt.Printf("%s No obsolescence candidates found\n", green("✓"))
			return
		}

		yellow := color.New(color.FgYellow).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		fmt.Printf("\n%d obsolescence candidate(s):\n\n", len(candidates))
		for _, cand := range candidates {
			action := yellow(string(cand.Action))
			if cand.Action == tracker.ActionRemove {
				action = red(string(cand.Action))
			}
			fmt.Printf("  %s (%s)  score %.1f  -> %s\n", cand.TestID, cand.EntityID, cand.Score, action)
			for _, signal := range cand.Signals {
				fmt.Printf("      %s\n", signal)
			}
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(obsoleteCmd)
}
