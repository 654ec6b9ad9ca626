package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/testpulse/pulse/internal/evolution"
)

var analyzePeriod string

var analyzeCmd = &cobra.Command{
	Use:   "analyze <test-id> <entity-id>",
	Short: "Analyze how a test's health has evolved",
	Long: `Run the full evolution analysis for one test-entity partition:
coverage trend and volatility, performance baseline and regressions,
flakiness, and the composite health score.

Example:
  pulse analyze TestLogin auth.Login`,
	Args: cobra.ExactArgs(2),
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

		analyzer := evolution.New(store, cfg, log)
		report, err := analyzer.AnalyzeEvolution(ctx, args[0], args[1], analyzePeriod)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: analysis failed: %v\n", err)
			os.Exit(1)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()
		fmt.Printf("\n%s %s / %s\n\n", cyan("Evolution analysis:"), report.TestID, report.EntityID)

		if report.ExecutionCount == 0 {
			fmt.Printf("  %s\n", gray("No executions recorded for this partition"))
			return
		}
		fmt.Printf("  Executions analyzed: %d\n", report.ExecutionCount)

		if report.Health != nil {
			fmt.Printf("\n  Health: %s\n", healthColored(report.Health.Overall))
			fmt.Printf("    coverage    %.2f\n", report.Health.Coverage)
			fmt.Printf("    performance %.2f\n", report.Health.Performance)
			fmt.Printf("    stability   %.2f\n", report.Health.Stability)
		}

		if report.Coverage != nil {
			fmt.Printf("\n  Coverage: %.1f%% (volatility %.3f)\n", report.Coverage.Current*100, report.Coverage.Volatility)
			if report.Coverage.Trend != nil {
				fmt.Printf("    trend: %s (confidence %.2f)\n", report.Coverage.Trend.Direction, report.Coverage.Trend.Confidence)
			}
		}

		if report.Performance != nil {
			fmt.Printf("\n  Performance: %.0fms now vs %.0fms baseline\n", report.Performance.Current, report.Performance.Baseline)
			if n := len(report.Performance.Regressions); n > 0 {
				fmt.Printf("    %d regression(s) against the rolling baseline\n", n)
			}
		}

		if report.Flakiness != nil && report.Flakiness.FailureCount > 0 {
			fmt.Printf("\n  Flakiness: score %.2f, %d failure(s), pattern %s\n",
				report.Flakiness.Score, report.Flakiness.FailureCount, report.Flakiness.Pattern)
		}

		for _, rec := range report.Recommendations {
			fmt.Printf("\n  ! %s", rec)
		}
		fmt.Println()
	},
}

func healthColored(overall float64) string {
	s := fmt.Sprintf("%.2f", overall)
	switch {
	case overall >= 0.8:
		return color.GreenString(s)
	case overall >= 0.5:
		return color.YellowString(s)
	default:
		return color.RedString(s)
	}
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzePeriod, "period", "", "Analysis period label (default from config)")
	rootCmd.AddCommand(analyzeCmd)
}
