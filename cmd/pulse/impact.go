package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/testpulse/pulse/internal/tracker"
)

var impactCmd = &cobra.Command{
	Use:   "impact <entity-id>",
	Short: "Estimate the blast radius of changing an entity",
	Long: `Score the risk of changing a code entity from its active test
relationships, execution frequency, and coverage.

Example:
  pulse impact auth.Login`,
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
		analysis, err := trk.AnalyzeImpact(ctx, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: impact analysis failed: %v\n", err)
			os.Exit(1)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		fmt.Printf("\n%s %s\n\n", cyan("Impact analysis:"), analysis.EntityID)
		fmt.Printf("  Score: %.2f (%s)\n", analysis.ImpactScore, riskColored(analysis.RiskLevel))
		fmt.Printf("  Affected tests: %d\n", len(analysis.AffectedTests))
		for _, id := range analysis.AffectedTests {
			fmt.Printf("    - %s\n", id)
		}
		if len(analysis.Factors) > 0 {
			fmt.Printf("\n  Factors:\n")
			for name, value := range analysis.Factors {
				fmt.Printf("    %-20s %.2f\n", name, value)
			}
		}
		for _, rec := range analysis.Recommendations {
			fmt.Printf("\n  ! %s", rec)
		}
		fmt.Println()
	},
}

func riskColored(level tracker.RiskLevel) string {
	switch level {
	case tracker.RiskLow:
		return color.GreenString(string(level))
	case tracker.RiskMedium:
		return color.YellowString(string(level))
	default:
		return color.RedString(string(level))
	}
}

func init() {
	rootCmd.AddCommand(impactCmd)
}
