package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/testpulse/pulse/internal/ci"
	"github.com/testpulse/pulse/internal/notify"
	"github.com/testpulse/pulse/internal/types"
)

var (
	alertsSend     bool
	alertsWebhook  string
	alertsSlack    string
	alertsInterval time.Duration
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Evaluate and dispatch alert conditions",
	Long:  `Commands for evaluating alert conditions over recent history.`,
}

var alertsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate alert conditions over the last 24 hours",
	Long: `Evaluate failure rate, flakiness, performance regression, and
coverage decrease conditions over the trailing 24 hours.

By default alerts are printed but not delivered. With --send, alerts
are rate-limited and dispatched to the configured channels.

Examples:
  pulse alerts check
  pulse alerts check --send --slack https://hooks.slack.com/services/XXX
  pulse alerts check --send --webhook https://ci.example.com/hooks/pulse`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		log := newLogger()

		integration, cleanup, err := buildIntegration(log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		alerts, err := integration.CheckAlertConditions(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: alert evaluation failed: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		if len(alerts) == 0 {
			fmt.Printf("%s No alert conditions fired\n", green("✓"))
			return
		}

		for _, alert := range alerts {
			printAlert(alert)
		}

		if alertsSend {
			if err := integration.SendAlerts(ctx, alerts); err != nil {
				fmt.Fprintf(os.Stderr, "Error: dispatch failed: %v\n", err)
				os.Exit(1)
			}
			sent, suppressed := 0, 0
			for _, alert := range alerts {
				if alert.Status == types.AlertSuppressed {
					suppressed++
				} else {
					sent++
				}
			}
			fmt.Printf("\n%s Dispatched %d alert(s)", green("✓"), sent)
			if suppressed > 0 {
				fmt.Printf(", %d suppressed by rate limit", suppressed)
			}
			fmt.Println()
		}
	},
}

var alertsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Continuously evaluate and dispatch alerts",
	Long: `Run the alert scheduler: evaluate conditions on an interval and
dispatch what fires, until interrupted.

Example:
  pulse alerts watch --interval 5m --slack https://hooks.slack.com/services/XXX`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		log := newLogger()

		integration, cleanup, err := buildIntegration(log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		scheduler := ci.NewScheduler(integration, alertsInterval)
		scheduler.Start(ctx)
		fmt.Printf("Watching alert conditions every %s (ctrl-c to stop)\n", alertsInterval)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		fmt.Println("\nStopping...")
		scheduler.Stop()
	},
}

// buildIntegration wires the CI integration with any configured
// notification channels. The returned cleanup closes the backend.
func buildIntegration(log zerolog.Logger) (*ci.Integration, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, backend, err := openHistory(cfg, log)
	if err != nil {
		return nil, nil, err
	}

	var channels []notify.Channel
	if alertsWebhook != "" {
		channels = append(channels, notify.Channel{Type: notify.ChannelWebhook, Endpoint: alertsWebhook})
	}
	if alertsSlack != "" {
		channels = append(channels, notify.Channel{Type: notify.ChannelSlack, Endpoint: alertsSlack})
	}
	var dispatcher *notify.Dispatcher
	if len(channels) > 0 {
		dispatcher = notify.NewDispatcher(channels, log)
	}

	integration := ci.New(store, cfg, dispatcher, log)
	return integration, func() { backend.Close() }, nil
}

func printAlert(alert *types.Alert) {
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	sev := yellow(string(alert.Severity))
	if alert.Severity == types.SeverityHigh || alert.Severity == types.SeverityCritical {
		sev = red(string(alert.Severity))
	}
	fmt.Printf("[%s] %s: %s\n", sev, alert.Type, alert.Message)
	if len(alert.AffectedTests) > 0 {
		limit := len(alert.AffectedTests)
		if limit > 5 {
			limit = 5
		}
		for _, id := range alert.AffectedTests[:limit] {
			fmt.Printf("    - %s\n", id)
		}
		if len(alert.AffectedTests) > limit {
			fmt.Printf("    ... and %d more\n", len(alert.AffectedTests)-limit)
		}
	}
}

func init() {
	alertsCheckCmd.Flags().BoolVar(&alertsSend, "send", false, "Dispatch alerts to configured channels")
	alertsCheckCmd.Flags().StringVar(&alertsWebhook, "webhook", "", "Webhook endpoint for alert delivery")
	alertsCheckCmd.Flags().StringVar(&alertsSlack, "slack", "", "Slack incoming webhook URL for alert delivery")

	alertsWatchCmd.Flags().DurationVar(&alertsInterval, "interval", 5*time.Minute, "Evaluation interval")
	alertsWatchCmd.Flags().StringVar(&alertsWebhook, "webhook", "", "Webhook endpoint for alert delivery")
	alertsWatchCmd.Flags().StringVar(&alertsSlack, "slack", "", "Slack incoming webhook URL for alert delivery")

	alertsCmd.AddCommand(alertsCheckCmd)
	alertsCmd.AddCommand(alertsWatchCmd)
	rootCmd.AddCommand(alertsCmd)
}
