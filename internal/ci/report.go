package ci

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/testpulse/pulse/internal/events"
	"github.com/testpulse/pulse/internal/metrics"
	"github.com/testpulse/pulse/internal/types"
)

// ReportFormat names a supported report rendering.
type ReportFormat string

const (
	ReportMarkdown ReportFormat = "markdown"
	ReportHTML     ReportFormat = "html"
	ReportJSON     ReportFormat = "json"
)

// TrendReport is the aggregate health report over a time window.
// Sections with no underlying data stay empty rather than erroring.
type TrendReport struct {
	GeneratedAt time.Time `json:"generated_at"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	// Summary is the executive rollup
	Summary ReportSummary `json:"summary"`
	// ExecutionTrend is the per-day execution and success series
	ExecutionTrend []DailyExecutions `json:"execution_trend,omitempty"`
	// CoverageTrend is the fitted coverage trend, if computable
	CoverageTrend *types.Trend `json:"coverage_trend,omitempty"`
	// FlakyTests lists tests that emitted flakiness events
	FlakyTests []string `json:"flaky_tests,omitempty"`
	// Regressions counts performance regression events per test
	Regressions map[string]int `json:"regressions,omitempty"`
}

// ReportSummary is the executive section of a trend report.
type ReportSummary struct {
	TotalExecutions int     `json:"total_executions"`
	DistinctTests   int     `json:"distinct_tests"`
	SuccessRate     float64 `json:"success_rate"`
	AvgDuration     float64 `json:"avg_duration_ms"`
	AvgCoverage     float64 `json:"avg_coverage"`
}

// DailyExecutions is one day's execution rollup.
type DailyExecutions struct {
	Date        string  `json:"date"`
	Executions  int     `json:"executions"`
	SuccessRate float64 `json:"success_rate"`
}

// BuildTrendReport assembles the report over [start, end].
func (c *Integration) BuildTrendReport(ctx context.Context, start, end time.Time) (*TrendReport, error) {
	records, err := c.store.QueryHistory(ctx, types.HistoryQuery{Start: start, End: end})
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	report := &TrendReport{
		GeneratedAt: time.Now().UTC(),
		WindowStart: start,
		WindowEnd:   end,
	}
	if len(records) == 0 {
		return report, nil
	}

	tests := map[string]bool{}
	var passes, counted int
	var durationSum, coverageSum float64
	var coverageCount int
	for _, rec := range records {
		tests[rec.TestID] = true
		durationSum += rec.Duration
		switch rec.Status {
		case types.StatusPass:
			passes++
			counted++
		case types.StatusFail:
			counted++
		}
		if rec.Coverage != nil {
			coverageSum += rec.Coverage.Overall
			coverageCount++
		}
	}
	report.Summary = ReportSummary{
		TotalExecutions: len(records),
		DistinctTests:   len(tests),
		AvgDuration:     durationSum / float64(len(records)),
	}
	if counted > 0 {
		report.Summary.SuccessRate = float64(passes) / float64(counted)
	}
	if coverageCount > 0 {
		report.Summary.AvgCoverage = coverageSum / float64(coverageCount)
	}

	report.ExecutionTrend = dailyExecutions(records)

	coverageSeries := metrics.ExtractSeries(records, types.MetricCoverage)
	report.CoverageTrend = metrics.DetectTrend(coverageSeries, types.MetricCoverage)

	flakyEvents, err := c.store.Events(ctx, events.Filter{Type: events.EventFlakinessDetected, After: start, Before: end})
	if err != nil {
		return nil, fmt.Errorf("failed to load flakiness events: %w", err)
	}
	flaky := map[string]bool{}
	for _, ev := range flakyEvents {
		flaky[ev.TestID] = true
	}
	report.FlakyTests = sortedKeys(flaky)

	regEvents, err := c.store.Events(ctx, events.Filter{Type: events.EventPerformanceRegression, After: start, Before: end})
	if err != nil {
		return nil, fmt.Errorf("failed to load regression events: %w", err)
	}
	if len(regEvents) > 0 {
		report.Regressions = map[string]int{}
		for _, ev := range regEvents {
			report.Regressions[ev.TestID]++
		}
	}
	return report, nil
}

// Render serializes the report in the requested format. Unsupported
// formats fail fast.
func (r *TrendReport) Render(format ReportFormat) (string, error) {
	switch format {
	case ReportJSON:
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode report: %w", err)
		}
		return string(data), nil
	case ReportMarkdown:
		return r.renderMarkdown(), nil
	case ReportHTML:
		return r.renderHTML(), nil
	default:
		return "", fmt.Errorf("unsupported report format %q (want markdown, html, or json)", format)
	}
}

func (r *TrendReport) renderMarkdown() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Test Health Report\n\n")
	fmt.Fprintf(&sb, "Window: %s to %s\n\n", r.WindowStart.Format("2006-01-02"), r.WindowEnd.Format("2006-01-02"))

	fmt.Fprintf(&sb, "## Summary\n\n")
	fmt.Fprintf(&sb, "- Executions: %d across %d tests\n", r.Summary.TotalExecutions, r.Summary.DistinctTests)
	fmt.Fprintf(&sb, "- Success rate: %.1f%%\n", r.Summary.SuccessRate*100)
	fmt.Fprintf(&sb, "- Average duration: %.0fms\n", r.Summary.AvgDuration)
	if r.Summary.AvgCoverage > 0 {
		fmt.Fprintf(&sb, "- Average coverage: %.1f%%\n", r.Summary.AvgCoverage*100)
	}
	sb.WriteString("\n")

	if len(r.ExecutionTrend) > 0 {
		fmt.Fprintf(&sb, "## Execution Trend\n\n")
		fmt.Fprintf(&sb, "| Date | Executions | Success Rate |\n|------|------------|--------------|\n")
		for _, day := range r.ExecutionTrend {
			fmt.Fprintf(&sb, "| %s | %d | %.1f%% |\n", day.Date, day.Executions, day.SuccessRate*100)
		}
		sb.WriteString("\n")
	}

	if r.CoverageTrend != nil {
		fmt.Fprintf(&sb, "## Coverage\n\n")
		fmt.Fprintf(&sb, "Coverage is %s (confidence %.2f).\n\n", r.CoverageTrend.Direction, r.CoverageTrend.Confidence)
	}

	if len(r.FlakyTests) > 0 {
		fmt.Fprintf(&sb, "## Flaky Tests\n\n")
		for _, id := range r.FlakyTests {
			fmt.Fprintf(&sb, "- %s\n", id)
		}
		sb.WriteString("\n")
	}

	if len(r.Regressions) > 0 {
		fmt.Fprintf(&sb, "## Performance Regressions\n\n")
		ids := make([]string, 0, len(r.Regressions))
		for id := range r.Regressions {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(&sb, "- %s: %d regression(s)\n", id, r.Regressions[id])
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (r *TrendReport) renderHTML() string {
	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html>\n<head><title>Test Health Report</title></head>\n<body>\n")
	fmt.Fprintf(&sb, "<h1>Test Health Report</h1>\n")
	fmt.Fprintf(&sb, "<p>Window: %s to %s</p>\n", r.WindowStart.Format("2006-01-02"), r.WindowEnd.Format("2006-01-02"))

	fmt.Fprintf(&sb, "<h2>Summary</h2>\n<ul>\n")
	fmt.Fprintf(&sb, "<li>Executions: %d across %d tests</li>\n", r.Summary.TotalExecutions, r.Summary.DistinctTests)
	fmt.Fprintf(&sb, "<li>Success rate: %.1f%%</li>\n", r.Summary.SuccessRate*100)
	fmt.Fprintf(&sb, "<li>Average duration: %.0fms</li>\n", r.Summary.AvgDuration)
	sb.WriteString("</ul>\n")

	if len(r.ExecutionTrend) > 0 {
		sb.WriteString("<h2>Execution Trend</h2>\n<table>\n<tr><th>Date</th><th>Executions</th><th>Success Rate</th></tr>\n")
		for _, day := range r.ExecutionTrend {
			fmt.Fprintf(&sb, "<tr><td>%s</td><td>%d</td><td>%.1f%%</td></tr>\n", day.Date, day.Executions, day.SuccessRate*100)
		}
		sb.WriteString("</table>\n")
	}

	if len(r.FlakyTests) > 0 {
		sb.WriteString("<h2>Flaky Tests</h2>\n<ul>\n")
		for _, id := range r.FlakyTests {
			fmt.Fprintf(&sb, "<li>%s</li>\n", html.EscapeString(id))
		}
		sb.WriteString("</ul>\n")
	}
	sb.WriteString("</body>\n</html>\n")
	return sb.String()
}

func dailyExecutions(records []*types.ExecutionRecord) []DailyExecutions {
	type rollup struct {
		total, passes, counted int
	}
	byDay := map[string]*rollup{}
	for _, rec := range records {
		day := rec.Timestamp.UTC().Format("2006-01-02")
		r, ok := byDay[day]
		if !ok {
			r = &rollup{}
			byDay[day] = r
		}
		r.total++
		switch rec.Status {
		case types.StatusPass:
			r.passes++
			r.counted++
		case types.StatusFail:
			r.counted++
		}
	}

	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)

	out := make([]DailyExecutions, 0, len(days))
	for _, day := range days {
		r := byDay[day]
		d := DailyExecutions{Date: day, Executions: r.total}
		if r.counted > 0 {
			d.SuccessRate = float64(r.passes) / float64(r.counted)
		}
		out = append(out, d)
	}
	return out
}
