package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/testpulse/pulse/internal/ci"
)

var (
	badgeTest   string
	badgeEntity string
	badgeSVG    string
)

var badgeCmd = &cobra.Command{
	Use:   "badge [status|coverage|flakiness|performance]",
	Short: "Generate a status badge",
	Long: `Generate a status badge from stored history. Prints the shields.io
URL; with --svg, also writes a self-contained SVG rendering.

Examples:
  pulse badge status
  pulse badge coverage --test TestLogin --entity auth.Login
  pulse badge flakiness --svg badge.svg`,
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

		integration := ci.New(store, cfg, nil, log)
		badge, err := integration.GenerateBadge(ctx, ci.BadgeKind(args[0]), badgeTest, badgeEntity)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s | %s\n", badge.Label, badge.Message)
		fmt.Println(badge.URL)

		if badgeSVG != "" {
			if err := os.WriteFile(badgeSVG, []byte(badge.SVG), 0o644); err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to write %s: %v\n", badgeSVG, err)
				os.Exit(1)
			}
			fmt.Printf("SVG written to %s\n", badgeSVG)
		}
	},
}

func init() {
	badgeCmd.Flags().StringVar(&badgeTest, "test", "", "Restrict the badge to one test")
	badgeCmd.Flags().StringVar(&badgeEntity, "entity", "", "Restrict the badge to one entity")
	badgeCmd.Flags().StringVar(&badgeSVG, "svg", "", "Write an inline SVG rendering to this file")
	rootCmd.AddCommand(badgeCmd)
}
