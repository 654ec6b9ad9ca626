package ci

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/testpulse/pulse/internal/config"
	"github.com/testpulse/pulse/internal/history"
	"github.com/testpulse/pulse/internal/notify"
	"github.com/testpulse/pulse/internal/types"
)

// Integration ties the analytics engine to CI surfaces: badges,
// reports, alerts, and run metrics. Alert dispatch history is held in
// memory; restarting the process resets the rate-limit window.
type Integration struct {
	store      *history.Store
	cfg        *config.Config
	dispatcher *notify.Dispatcher
	log        zerolog.Logger

	mu       sync.Mutex
	sentAt   []time.Time
	alertLog []*types.Alert
}

// New creates a CI integration. The dispatcher may be nil when alert
// delivery is not configured; alerts are then recorded but never sent.
func New(store *history.Store, cfg *config.Config, dispatcher *notify.Dispatcher, log zerolog.Logger) *Integration {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Integration{
		store:      store,
		cfg:        cfg,
		dispatcher: dispatcher,
		log:        log.With().Str("component", "ci").Logger(),
	}
}

// AlertHistory returns the alerts recorded this process lifetime,
// newest-first.
func (c *Integration) AlertHistory() []*types.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.Alert, len(c.alertLog))
	for i, a := range c.alertLog {
		out[len(out)-1-i] = a
	}
	return out
}

// sentInLastHour counts dispatches inside the rolling hour and prunes
// older entries. Callers hold c.mu.
func (c *Integration) sentInLastHour(now time.Time) int {
	cutoff := now.Add(-time.Hour)
	kept := c.sentAt[:0]
	for _, ts := range c.sentAt {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	c.sentAt = kept
	return len(kept)
}
