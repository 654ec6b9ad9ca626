package ci

import (
	"context"
	"fmt"
	"time"

	"github.com/testpulse/pulse/internal/types"
)

// CIMetrics summarizes pipeline behavior over a window.
type CIMetrics struct {
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	// TotalRuns is the number of distinct CI runs observed
	TotalRuns int `json:"total_runs"`
	// TotalExecutions is the number of test executions observed
	TotalExecutions int `json:"total_executions"`
	// SuccessRate is passes over non-skipped executions
	SuccessRate float64 `json:"success_rate"`
	// AvgDuration is the mean execution time in milliseconds
	AvgDuration float64 `json:"avg_duration_ms"`
	// FailureBreakdown is a heuristic split of failures by likely cause.
	// The proportions are fixed estimates, not measured classifications;
	// real attribution needs failure output the engine does not ingest.
	FailureBreakdown map[string]int `json:"failure_breakdown,omitempty"`
	// DailyTrend is the per-day execution rollup
	DailyTrend []DailyExecutions `json:"daily_trend,omitempty"`
}

// Heuristic failure attribution proportions.
var failureCauses = []struct {
	cause string
	share float64
}{
	{"code_defect", 0.5},
	{"flaky_infrastructure", 0.3},
	{"environment", 0.2},
}

// ComputeCIMetrics rolls up pipeline metrics over [start, end].
func (c *Integration) ComputeCIMetrics(ctx context.Context, start, end time.Time) (*CIMetrics, error) {
	records, err := c.store.QueryHistory(ctx, types.HistoryQuery{Start: start, End: end})
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	m := &CIMetrics{WindowStart: start, WindowEnd: end}
	if len(records) == 0 {
		return m, nil
	}

	runs := map[string]bool{}
	var passes, counted, failures int
	var durationSum float64
	for _, rec := range records {
		if rec.RunID != "" {
			runs[rec.RunID] = true
		}
		durationSum += rec.Duration
		switch rec.Status {
		case types.StatusPass:
			passes++
			counted++
		case types.StatusFail:
			failures++
			counted++
		}
	}

	m.TotalRuns = len(runs)
	m.TotalExecutions = len(records)
	m.AvgDuration = durationSum / float64(len(records))
	if counted > 0 {
		m.SuccessRate = float64(passes) / float64(counted)
	}

	if failures > 0 {
		m.FailureBreakdown = map[string]int{}
		assigned := 0
		for i, fc := range failureCauses {
			n := int(float64(failures) * fc.share)
			if i == len(failureCauses)-1 {
				n = failures - assigned
			}
			m.FailureBreakdown[fc.cause] = n
			assigned += n
		}
	}

	m.DailyTrend = dailyExecutions(records)
	return m, nil
}
