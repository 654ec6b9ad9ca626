// Package notify delivers alerts to external channels. Delivery is
// best-effort: a channel that fails or throttles never blocks the
// others, and failures are logged rather than propagated.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/testpulse/pulse/internal/types"
)

// ChannelType names a supported delivery mechanism.
type ChannelType string

const (
	// ChannelWebhook POSTs the alert as JSON to an arbitrary endpoint
	ChannelWebhook ChannelType = "webhook"
	// ChannelSlack POSTs a Slack-formatted payload to an incoming webhook
	ChannelSlack ChannelType = "slack"
	// ChannelEmail logs the alert; SMTP delivery needs mail server config
	ChannelEmail ChannelType = "email"
	// ChannelGitHubIssue logs the alert; issue creation needs a repo token
	ChannelGitHubIssue ChannelType = "github_issue"
)

// Channel is one configured delivery target.
type Channel struct {
	// Type selects the delivery mechanism
	Type ChannelType `yaml:"type" json:"type"`
	// Endpoint is the channel-specific target (URL, address, repo)
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

// Sender delivers one alert to one endpoint.
type Sender interface {
	Send(ctx context.Context, alert *types.Alert, endpoint string) error
}

// httpTimeout bounds each delivery attempt.
const httpTimeout = 10 * time.Second

// WebhookSender POSTs the alert as a JSON document.
type WebhookSender struct {
	Client *http.Client
}

func (s *WebhookSender) Send(ctx context.Context, alert *types.Alert, endpoint string) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}
	return postJSON(ctx, s.Client, endpoint, body)
}

// SlackSender POSTs a minimal Slack incoming-webhook payload.
type SlackSender struct {
	Client *http.Client
}

func (s *SlackSender) Send(ctx context.Context, alert *types.Alert, endpoint string) error {
	payload := map[string]interface{}{
		"text": fmt.Sprintf("[%s] %s: %s", alert.Severity, alert.Type, alert.Message),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode slack payload: %w", err)
	}
	return postJSON(ctx, s.Client, endpoint, body)
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, body []byte) error {
	if client == nil {
		client = &http.Client{Timeout: httpTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("delivery rejected with status %d", resp.StatusCode)
	}
	return nil
}

// logSender records the alert in the log instead of delivering it.
// Used for channel types whose real delivery needs credentials the
// engine does not manage.
type logSender struct {
	channel ChannelType
	log     zerolog.Logger
}

func (s *logSender) Send(ctx context.Context, alert *types.Alert, endpoint string) error {
	s.log.Info().
		Str("channel", string(s.channel)).
		Str("endpoint", endpoint).
		Str("alert_id", alert.AlertID).
		Str("severity", string(alert.Severity)).
		Msg(alert.Message)
	return nil
}

// Dispatcher fans an alert out to every configured channel
// concurrently, throttling each channel independently.
type Dispatcher struct {
	channels []Channel
	senders  map[ChannelType]Sender
	limiters map[ChannelType]*rate.Limiter
	log      zerolog.Logger
}

// NewDispatcher builds a dispatcher for the given channels. Each
// channel type gets its own limiter so a noisy webhook cannot starve
// Slack delivery.
func NewDispatcher(channels []Channel, log zerolog.Logger) *Dispatcher {
	log = log.With().Str("component", "notify").Logger()
	d := &Dispatcher{
		channels: channels,
		senders: map[ChannelType]Sender{
			ChannelWebhook:     &WebhookSender{},
			ChannelSlack:       &SlackSender{},
			ChannelEmail:       &logSender{channel: ChannelEmail, log: log},
			ChannelGitHubIssue: &logSender{channel: ChannelGitHubIssue, log: log},
		},
		limiters: make(map[ChannelType]*rate.Limiter),
		log:      log,
	}
	for _, ch := range channels {
		if _, ok := d.limiters[ch.Type]; !ok {
			// One delivery per second sustained, bursts of five.
			d.limiters[ch.Type] = rate.NewLimiter(rate.Limit(1), 5)
		}
	}
	return d
}

// SetSender replaces the sender for a channel type. Used by tests and
// by callers that supply authenticated clients.
func (d *Dispatcher) SetSender(t ChannelType, s Sender) {
	d.senders[t] = s
}

// Dispatch delivers the alert to every configured channel. Individual
// channel failures are logged and counted, never returned; the error
// is non-nil only when the context is canceled mid-flight.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *types.Alert) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, ch := range d.channels {
		ch := ch
		g.Go(func() error {
			limiter := d.limiters[ch.Type]
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return err
				}
			}
			sender, ok := d.senders[ch.Type]
			if !ok {
				d.log.Error().Str("channel", string(ch.Type)).Msg("no sender registered")
				return nil
			}
			if err := sender.Send(ctx, alert, ch.Endpoint); err != nil {
				d.log.Error().
					Err(err).
					Str("channel", string(ch.Type)).
					Str("alert_id", alert.AlertID).
					Msg("alert delivery failed")
				return nil
			}
			d.log.Debug().
				Str("channel", string(ch.Type)).
				Str("alert_id", alert.AlertID).
				Msg("alert delivered")
			return nil
		})
	}
	return g.Wait()
}
