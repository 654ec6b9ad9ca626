package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/testpulse/pulse/internal/tracker"
	"github.com/testpulse/pulse/internal/types"
)

var (
	ingestFile     string
	ingestTest     string
	ingestEntity   string
	ingestSuite    string
	ingestRun      string
	ingestStatus   string
	ingestDuration float64
	ingestCoverage float64
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Record test execution results",
	Long: `Record one or more test execution results and run change analysis.

Each ingested execution is compared against the partition's history:
coverage shifts, performance regressions, and flakiness onset are
recorded as evolution events.

Examples:
  pulse ingest --test TestLogin --entity auth.Login --status pass --duration 120
  pulse ingest --file results.json    # JSON array of execution records`,
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

		var records []*types.ExecutionRecord
		if ingestFile != "" {
			data, err := os.ReadFile(ingestFile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to read %s: %v\n", ingestFile, err)
				os.Exit(1)
			}
			if err := json.Unmarshal(data, &records); err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to parse %s: %v\n", ingestFile, err)
				os.Exit(1)
			}
		} else {
			rec := &types.ExecutionRecord{
				TestID:   ingestTest,
				EntityID: ingestEntity,
				SuiteID:  ingestSuite,
				RunID:    ingestRun,
				Status:   types.Status(ingestStatus),
				Duration: ingestDuration,
			}
			if cmd.Flags().Changed("coverage") {
				rec.Coverage = &types.CoverageData{Overall: ingestCoverage}
			}
			records = append(records, rec)
		}

		for i, rec := range records {
			if err := trk.TrackExecution(ctx, rec); err != nil {
				fmt.Fprintf(os.Stderr, "Error: record %d: %v\n", i+1, err)
				os.Exit(1)
			}
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Recorded %d execution(s)\n", green("✓"), len(records))
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "JSON file containing an array of execution records")
	ingestCmd.Flags().StringVar(&ingestTest, "test", "", "Test identifier")
	ingestCmd.Flags().StringVar(&ingestEntity, "entity", "", "Code entity identifier")
	ingestCmd.Flags().StringVar(&ingestSuite, "suite", "", "Test suite identifier")
	ingestCmd.Flags().StringVar(&ingestRun, "run", "", "CI run identifier")
	ingestCmd.Flags().StringVar(&ingestStatus, "status", "", "Execution status: pass, fail, or skip")
	ingestCmd.Flags().Float64Var(&ingestDuration, "duration", 0, "Execution duration in milliseconds")
	ingestCmd.Flags().Float64Var(&ingestCoverage, "coverage", 0, "Overall coverage ratio in [0, 1]")
	rootCmd.AddCommand(ingestCmd)
}
