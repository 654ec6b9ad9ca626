package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/testpulse/pulse/internal/history"
)

var (
	exportFormat string
	importFormat string
)

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export stored history",
	Long: `Export stored history to a file or stdout. JSON exports carry
executions, snapshots, events, relationships, and the retention policy;
CSV exports carry executions only.

Examples:
  pulse export backup.json
  pulse export --format csv executions.csv
  pulse export                 # JSON to stdout`,
	Args: cobra.MaximumNArgs(1),
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

		out := os.Stdout
		if len(args) > 0 {
			f, err := os.Create(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to create %s: %v\n", args[0], err)
				os.Exit(1)
			}
			defer f.Close()
			out = f
		}

		if err := store.Export(ctx, out, history.ExportFormat(exportFormat)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: export failed: %v\n", err)
			os.Exit(1)
		}
		if len(args) > 0 {
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Printf("%s Exported to %s\n", green("✓"), args[0])
		}
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a previous export",
	Long: `Import an export file. The whole input is validated before any
write; a malformed file leaves the store untouched. Imported executions
pass through retention and snapshot cadence like live ingestion.

Examples:
  pulse import backup.json
  pulse import --format csv executions.csv`,
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

		f, err := os.Open(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to open %s: %v\n", args[0], err)
			os.Exit(1)
		}
		defer f.Close()

		imported, err := store.Import(ctx, f, history.ExportFormat(importFormat))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: import failed: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Imported %d record(s)\n", green("✓"), imported)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "Export format: json or csv")
	importCmd.Flags().StringVar(&importFormat, "format", "json", "Import format: json or csv")
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
