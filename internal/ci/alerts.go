package ci

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/testpulse/pulse/internal/events"
	"github.com/testpulse/pulse/internal/types"
)

// Alert condition types.
const (
	AlertFailureRate           = "failure_rate"
	AlertFlakiness             = "flakiness"
	AlertPerformanceRegression = "performance_regression"
	AlertCoverageDecrease      = "coverage_decrease"
)

// CheckAlertConditions evaluates the alert conditions over the
// trailing 24 hours and returns the alerts that fired, oldest-first,
// all in pending status. Nothing is dispatched here.
func (c *Integration) CheckAlertConditions(ctx context.Context) ([]*types.Alert, error) {
	now := time.Now().UTC()
	since := now.Add(-24 * time.Hour)

	records, err := c.store.QueryHistory(ctx, types.HistoryQuery{Start: since})
	if err != nil {
		return nil, fmt.Errorf("failed to load recent executions: %w", err)
	}

	var alerts []*types.Alert
	if a := c.checkFailureRate(records, now); a != nil {
		alerts = append(alerts, a)
	}
	if a, err := c.checkFlakiness(ctx, records, since, now); err != nil {
		return nil, err
	} else if a != nil {
		alerts = append(alerts, a)
	}
	if a, err := c.checkRegressionEvents(ctx, since, now); err != nil {
		return nil, err
	} else if a != nil {
		alerts = append(alerts, a)
	}
	if a, err := c.checkCoverageEvents(ctx, since, now); err != nil {
		return nil, err
	} else if a != nil {
		alerts = append(alerts, a)
	}

	sort.Slice(alerts, func(i, j int) bool { return alerts[i].Timestamp.Before(alerts[j].Timestamp) })
	return alerts, nil
}

func (c *Integration) checkFailureRate(records []*types.ExecutionRecord, now time.Time) *types.Alert {
	counted := 0
	failures := 0
	failedTests := map[string]bool{}
	for _, rec := range records {
		switch rec.Status {
		case types.StatusFail:
			failures++
			counted++
			failedTests[rec.TestID] = true
		case types.StatusPass:
			counted++
		}
	}
	if counted == 0 {
		return nil
	}
	rate := float64(failures) / float64(counted)
	if rate <= c.cfg.FailureRateAlertThreshold {
		return nil
	}

	severity := types.SeverityMedium
	if rate > 2*c.cfg.FailureRateAlertThreshold {
		severity = types.SeverityHigh
	}
	return &types.Alert{
		AlertID:       uuid.New().String(),
		Timestamp:     now,
		Type:          AlertFailureRate,
		Severity:      severity,
		Message:       fmt.Sprintf("failure rate over the last 24h is %.0f%% (threshold %.0f%%)", rate*100, c.cfg.FailureRateAlertThreshold*100),
		AffectedTests: sortedKeys(failedTests),
		Details: map[string]interface{}{
			"failure_rate": rate,
			"failures":     failures,
			"executions":   counted,
		},
		Status: types.AlertPending,
	}
}

// checkFlakiness fires when the ratio of tests with at least one
// flakiness event to distinct executed tests crosses the threshold.
func (c *Integration) checkFlakiness(ctx context.Context, records []*types.ExecutionRecord, since, now time.Time) (*types.Alert, error) {
	distinct := map[string]bool{}
	for _, rec := range records {
		distinct[rec.TestID] = true
	}
	if len(distinct) == 0 {
		return nil, nil
	}

	evs, err := c.store.Events(ctx, events.Filter{Type: events.EventFlakinessDetected, After: since})
	if err != nil {
		return nil, fmt.Errorf("failed to load flakiness events: %w", err)
	}
	flaky := map[string]bool{}
	for _, ev := range evs {
		flaky[ev.TestID] = true
	}
	ratio := float64(len(flaky)) / float64(len(distinct))
	if ratio <= c.cfg.FlakinessAlertThreshold {
		return nil, nil
	}

	return &types.Alert{
		AlertID:       uuid.New().String(),
		Timestamp:     now,
		Type:          AlertFlakiness,
		Severity:      types.SeverityMedium,
		Message:       fmt.Sprintf("%d of %d tests showed flakiness in the last 24h", len(flaky), len(distinct)),
		AffectedTests: sortedKeys(flaky),
		Details: map[string]interface{}{
			"flaky_ratio": ratio,
			"flaky_tests": len(flaky),
			"total_tests": len(distinct),
		},
		Status: types.AlertPending,
	}, nil
}

func (c *Integration) checkRegressionEvents(ctx context.Context, since, now time.Time) (*types.Alert, error) {
	evs, err := c.store.Events(ctx, events.Filter{Type: events.EventPerformanceRegression, After: since})
	if err != nil {
		return nil, fmt.Errorf("failed to load regression events: %w", err)
	}
	if len(evs) == 0 {
		return nil, nil
	}
	affected := map[string]bool{}
	for _, ev := range evs {
		affected[ev.TestID] = true
	}
	return &types.Alert{
		AlertID:       uuid.New().String(),
		Timestamp:     now,
		Type:          AlertPerformanceRegression,
		Severity:      types.SeverityMedium,
		Message:       fmt.Sprintf("%d performance regression(s) detected in the last 24h", len(evs)),
		AffectedTests: sortedKeys(affected),
		Details:       map[string]interface{}{"event_count": len(evs)},
		Status:        types.AlertPending,
	}, nil
}

func (c *Integration) checkCoverageEvents(ctx context.Context, since, now time.Time) (*types.Alert, error) {
	evs, err := c.store.Events(ctx, events.Filter{Type: events.EventCoverageDecreased, After: since})
	if err != nil {
		return nil, fmt.Errorf("failed to load coverage events: %w", err)
	}
	if len(evs) == 0 {
		return nil, nil
	}
	affected := map[string]bool{}
	for _, ev := range evs {
		affected[ev.TestID] = true
	}
	return &types.Alert{
		AlertID:       uuid.New().String(),
		Timestamp:     now,
		Type:          AlertCoverageDecrease,
		Severity:      types.SeverityLow,
		Message:       fmt.Sprintf("coverage decreased on %d test(s) in the last 24h", len(affected)),
		AffectedTests: sortedKeys(affected),
		Details:       map[string]interface{}{"event_count": len(evs)},
		Status:        types.AlertPending,
	}, nil
}

// applyRateLimits enforces the per-hour dispatch cap: at most
// maxAlertsPerHour minus what was already sent this rolling hour.
// Excess alerts are marked suppressed, oldest kept first.
func (c *Integration) applyRateLimits(alerts []*types.Alert, now time.Time) []*types.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	budget := c.cfg.MaxAlertsPerHour - c.sentInLastHour(now)
	if budget < 0 {
		budget = 0
	}
	for i, a := range alerts {
		if i >= budget {
			a.Status = types.AlertSuppressed
		}
	}
	if len(alerts) > budget {
		c.log.Warn().
			Int("suppressed", len(alerts)-budget).
			Int("budget", budget).
			Msg("alert rate limit reached")
	}
	return alerts
}

// SendAlerts applies rate limiting and dispatches what survives.
// Suppressed alerts are recorded in the history but never delivered.
func (c *Integration) SendAlerts(ctx context.Context, alerts []*types.Alert) error {
	now := time.Now().UTC()
	alerts = c.applyRateLimits(alerts, now)

	for _, alert := range alerts {
		if alert.Status == types.AlertSuppressed {
			c.recordAlert(alert, now, false)
			continue
		}
		if c.dispatcher != nil {
			if err := c.dispatcher.Dispatch(ctx, alert); err != nil {
				return fmt.Errorf("failed to dispatch alert %s: %w", alert.AlertID, err)
			}
		}
		alert.Status = types.AlertSent
		c.recordAlert(alert, now, true)
	}
	return nil
}

func (c *Integration) recordAlert(alert *types.Alert, now time.Time, sent bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alertLog = append(c.alertLog, alert)
	if sent {
		c.sentAt = append(c.sentAt, now)
	}
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
