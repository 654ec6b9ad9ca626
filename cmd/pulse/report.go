package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/testpulse/pulse/internal/ci"
)

var (
	reportFormat string
	reportDays   int
	reportOut    string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a test health trend report",
	Long: `Generate an aggregate health report over a trailing window:
executive summary, per-day execution trend, coverage trend, flaky
tests, and performance regressions.

Examples:
  pulse report                          # Last 7 days, markdown to stdout
  pulse report --days 30 --format html --out report.html
  pulse report --format json`,
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

		integration := ci.New(store, cfg, nil, log)
		end := time.Now().UTC()
		start := end.AddDate(0, 0, -reportDays)

		report, err := integration.BuildTrendReport(ctx, start, end)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to build report: %v\n", err)
			os.Exit(1)
		}
		rendered, err := report.Render(ci.ReportFormat(reportFormat))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if reportOut == "" {
			fmt.Print(rendered)
			return
		}
		if err := os.WriteFile(reportOut, []byte(rendered), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to write %s: %v\n", reportOut, err)
			os.Exit(1)
		}
		fmt.Printf("Report written to %s\n", reportOut)
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportFormat, "format", "markdown", "Output format: markdown, html, or json")
	reportCmd.Flags().IntVar(&reportDays, "days", 7, "Trailing window in days")
	reportCmd.Flags().StringVar(&reportOut, "out", "", "Write the report to a file instead of stdout")
	rootCmd.AddCommand(reportCmd)
}
