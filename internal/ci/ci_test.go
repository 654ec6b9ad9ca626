package ci

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/testpulse/pulse/internal/config"
	"github.com/testpulse/pulse/internal/events"
	"github.com/testpulse/pulse/internal/history"
	"github.com/testpulse/pulse/internal/storage/memory"
	"github.com/testpulse/pulse/internal/types"
)

func newTestIntegration(t *testing.T, cfg *config.Config) (*Integration, *history.Store) {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	store := history.New(memory.New(), cfg, zerolog.Nop())
	return New(store, cfg, nil, zerolog.Nop()), store
}

func storeExec(t *testing.T, store *history.Store, testID string, ts time.Time, status types.Status, duration float64, coverage float64) {
	t.Helper()
	rec := &types.ExecutionRecord{
		TestID:    testID,
		EntityID:  "e1",
		RunID:     "run-" + ts.Format("150405"),
		Timestamp: ts,
		Status:    status,
		Duration:  duration,
	}
	if coverage > 0 {
		rec.Coverage = &types.CoverageData{Overall: coverage}
	}
	if err := store.StoreExecution(context.Background(), rec); err != nil {
		t.Fatalf("StoreExecution failed: %v", err)
	}
}

func TestCheckAlertConditionsFailureRate(t *testing.T) {
	ctx := context.Background()
	ci, store := newTestIntegration(t, nil)
	now := time.Now().UTC()

	// 40% failure rate over the last 24h.
	for i := 0; i < 10; i++ {
		status := types.StatusPass
		if i < 4 {
			status = types.StatusFail
		}
		storeExec(t, store, "t1", now.Add(-time.Duration(i)*time.Hour), status, 100, 0)
	}

	alerts, err := ci.CheckAlertConditions(ctx)
	if err != nil {
		t.Fatalf("CheckAlertConditions failed: %v", err)
	}

	var found *types.Alert
	for _, a := range alerts {
		if a.Type == AlertFailureRate {
			found = a
		}
	}
	if found == nil {
		t.Fatalf("expected a failure_rate alert at 40%%")
	}
	if found.Status != types.AlertPending {
		t.Errorf("raised alerts should be pending, got %s", found.Status)
	}
	if len(found.AffectedTests) != 1 || found.AffectedTests[0] != "t1" {
		t.Errorf("unexpected affected tests: %v", found.AffectedTests)
	}
}

func TestCheckAlertConditionsQuiet(t *testing.T) {
	ctx := context.Background()
	ci, store := newTestIntegration(t, nil)
	now := time.Now().UTC()

	for i := 0; i < 10; i++ {
		storeExec(t, store, "t1", now.Add(-time.Duration(i)*time.Hour), types.StatusPass, 100, 0)
	}

	alerts, err := ci.CheckAlertConditions(ctx)
	if err != nil {
		t.Fatalf("CheckAlertConditions failed: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("all-passing history should raise nothing, got %d alerts", len(alerts))
	}
}

func TestCheckAlertConditionsRegressionEvents(t *testing.T) {
	ctx := context.Background()
	ci, store := newTestIntegration(t, nil)
	now := time.Now().UTC()

	storeExec(t, store, "t1", now, types.StatusPass, 100, 0)
	ev := events.New(events.EventPerformanceRegression, "t1", "e1", nil, map[string]interface{}{"ratio": 2.0})
	if err := store.AppendEvent(ctx, ev); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}

	alerts, err := ci.CheckAlertConditions(ctx)
	if err != nil {
		t.Fatalf("CheckAlertConditions failed: %v", err)
	}
	found := false
	for _, a := range alerts {
		if a.Type == AlertPerformanceRegression {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a performance_regression alert")
	}
}

func TestSendAlertsRateLimiting(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig()
	cfg.MaxAlertsPerHour = 3
	ci, _ := newTestIntegration(t, cfg)

	now := time.Now().UTC()
	var alerts []*types.Alert
	for i := 0; i < 5; i++ {
		alerts = append(alerts, &types.Alert{
			AlertID:   "a" + string(rune('0'+i)),
			Timestamp: now.Add(time.Duration(i) * time.Minute),
			Type:      AlertFailureRate,
			Severity:  types.SeverityMedium,
			Message:   "test alert",
			Status:    types.AlertPending,
		})
	}

	if err := ci.SendAlerts(ctx, alerts); err != nil {
		t.Fatalf("SendAlerts failed: %v", err)
	}

	sent, suppressed := 0, 0
	for _, a := range alerts {
		switch a.Status {
		case types.AlertSent:
			sent++
		case types.AlertSuppressed:
			suppressed++
		}
	}
	if sent != 3 || suppressed != 2 {
		t.Fatalf("expected 3 sent / 2 suppressed, got %d/%d", sent, suppressed)
	}
	// Oldest alerts get the budget.
	if alerts[0].Status != types.AlertSent || alerts[4].Status != types.AlertSuppressed {
		t.Errorf("budget should go to the oldest alerts first")
	}

	// Budget is exhausted for the rest of the hour.
	more := []*types.Alert{{
		AlertID:   "late",
		Timestamp: now,
		Type:      AlertFlakiness,
		Status:    types.AlertPending,
	}}
	if err := ci.SendAlerts(ctx, more); err != nil {
		t.Fatalf("SendAlerts failed: %v", err)
	}
	if more[0].Status != types.AlertSuppressed {
		t.Errorf("expected suppression after budget exhaustion, got %s", more[0].Status)
	}

	if len(ci.AlertHistory()) != 6 {
		t.Errorf("expected all 6 alerts in history, got %d", len(ci.AlertHistory()))
	}
}

func TestGenerateBadgeStatus(t *testing.T) {
	ctx := context.Background()
	ci, store := newTestIntegration(t, nil)
	now := time.Now().UTC()

	for i := 0; i < 10; i++ {
		storeExec(t, store, "t1", now.Add(-time.Duration(i)*time.Minute), types.StatusPass, 100, 0)
	}

	badge, err := ci.GenerateBadge(ctx, BadgeStatus, "t1", "e1")
	if err != nil {
		t.Fatalf("GenerateBadge failed: %v", err)
	}
	if badge.Message != "passing" || badge.Color != "brightgreen" {
		t.Errorf("unexpected badge: %+v", badge)
	}
	if !strings.HasPrefix(badge.URL, "https://img.shields.io/badge/") {
		t.Errorf("unexpected url: %s", badge.URL)
	}
	if !strings.Contains(badge.SVG, "<svg") || !strings.Contains(badge.SVG, "passing") {
		t.Errorf("svg rendering incomplete")
	}
}

func TestGenerateBadgeCoverage(t *testing.T) {
	ctx := context.Background()
	ci, store := newTestIntegration(t, nil)
	now := time.Now().UTC()

	storeExec(t, store, "t1", now, types.StatusPass, 100, 0.85)
	storeExec(t, store, "t1", now.Add(time.Minute), types.StatusPass, 100, 0.95)

	badge, err := ci.GenerateBadge(ctx, BadgeCoverage, "t1", "e1")
	if err != nil {
		t.Fatalf("GenerateBadge failed: %v", err)
	}
	if badge.Message != "90%" || badge.Color != "brightgreen" {
		t.Errorf("unexpected coverage badge: %+v", badge)
	}
}

func TestGenerateBadgeNoData(t *testing.T) {
	ci, _ := newTestIntegration(t, nil)
	badge, err := ci.GenerateBadge(context.Background(), BadgeStatus, "missing", "missing")
	if err != nil {
		t.Fatalf("GenerateBadge failed: %v", err)
	}
	if badge.Message != "unknown" || badge.Color != "lightgrey" {
		t.Errorf("expected unknown badge, got %+v", badge)
	}
}

func TestGenerateBadgeUnknownKind(t *testing.T) {
	ci, _ := newTestIntegration(t, nil)
	if _, err := ci.GenerateBadge(context.Background(), "sparkles", "", ""); err == nil {
		t.Errorf("expected error for unknown badge kind")
	}
}

func TestBuildTrendReportAndRender(t *testing.T) {
	ctx := context.Background()
	ci, store := newTestIntegration(t, nil)
	now := time.Now().UTC()

	for i := 0; i < 6; i++ {
		status := types.StatusPass
		if i == 0 {
			status = types.StatusFail
		}
		storeExec(t, store, "t1", now.Add(-time.Duration(i)*time.Hour), status, 120, 0.8)
	}

	report, err := ci.BuildTrendReport(ctx, now.AddDate(0, 0, -7), now)
	if err != nil {
		t.Fatalf("BuildTrendReport failed: %v", err)
	}
	if report.Summary.TotalExecutions != 6 || report.Summary.DistinctTests != 1 {
		t.Errorf("unexpected summary: %+v", report.Summary)
	}

	md, err := report.Render(ReportMarkdown)
	if err != nil {
		t.Fatalf("markdown render failed: %v", err)
	}
	if !strings.Contains(md, "# Test Health Report") || !strings.Contains(md, "Success rate") {
		t.Errorf("markdown missing sections")
	}

	htmlOut, err := report.Render(ReportHTML)
	if err != nil {
		t.Fatalf("html render failed: %v", err)
	}
	if !strings.Contains(htmlOut, "<h1>") {
		t.Errorf("html missing header")
	}

	jsonOut, err := report.Render(ReportJSON)
	if err != nil {
		t.Fatalf("json render failed: %v", err)
	}
	if !strings.Contains(jsonOut, "\"summary\"") {
		t.Errorf("json missing summary")
	}

	if _, err := report.Render("pdf"); err == nil {
		t.Errorf("expected error for unsupported format")
	}
}

func TestBuildTrendReportEmptyWindow(t *testing.T) {
	ci, _ := newTestIntegration(t, nil)
	now := time.Now().UTC()
	report, err := ci.BuildTrendReport(context.Background(), now.AddDate(0, 0, -7), now)
	if err != nil {
		t.Fatalf("BuildTrendReport failed: %v", err)
	}
	if report.Summary.TotalExecutions != 0 {
		t.Errorf("expected empty summary")
	}
	// Rendering an empty report still works.
	if _, err := report.Render(ReportMarkdown); err != nil {
		t.Errorf("empty report should render: %v", err)
	}
}

func TestComputeCIMetrics(t *testing.T) {
	ctx := context.Background()
	ci, store := newTestIntegration(t, nil)
	now := time.Now().UTC()

	for i := 0; i < 10; i++ {
		status := types.StatusPass
		if i < 4 {
			status = types.StatusFail
		}
		storeExec(t, store, "t1", now.Add(-time.Duration(i)*time.Minute), status, 100, 0)
	}

	m, err := ci.ComputeCIMetrics(ctx, now.AddDate(0, 0, -1), now)
	if err != nil {
		t.Fatalf("ComputeCIMetrics failed: %v", err)
	}
	if m.TotalExecutions != 10 {
		t.Errorf("expected 10 executions, got %d", m.TotalExecutions)
	}
	if m.SuccessRate != 0.6 {
		t.Errorf("expected success rate 0.6, got %v", m.SuccessRate)
	}
	total := 0
	for _, n := range m.FailureBreakdown {
		total += n
	}
	if total != 4 {
		t.Errorf("failure breakdown should cover all 4 failures, got %d", total)
	}
	if len(m.DailyTrend) == 0 {
		t.Errorf("expected a daily trend")
	}
}

func TestSchedulerStartStop(t *testing.T) {
	ci, _ := newTestIntegration(t, nil)
	s := NewScheduler(ci, time.Minute)
	s.Start(context.Background())
	// Double start is a no-op.
	s.Start(context.Background())
	s.Stop()
	// Double stop is a no-op.
	s.Stop()
}
