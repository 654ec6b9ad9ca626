package evolution

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/testpulse/pulse/internal/config"
	"github.com/testpulse/pulse/internal/history"
	"github.com/testpulse/pulse/internal/storage/memory"
	"github.com/testpulse/pulse/internal/types"
)

func newTestAnalyzer(t *testing.T) (*Analyzer, *history.Store) {
	t.Helper()
	store := history.New(memory.New(), config.DefaultConfig(), zerolog.Nop())
	return New(store, config.DefaultConfig(), zerolog.Nop()), store
}

func seed(t *testing.T, store *history.Store, testID, entityID string, n int, build func(i int) (types.Status, float64, float64)) {
	t.Helper()
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Duration(n) * time.Hour)
	for i := 0; i < n; i++ {
		status, duration, coverage := build(i)
		rec := &types.ExecutionRecord{
			TestID:    testID,
			EntityID:  entityID,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Status:    status,
			Duration:  duration,
		}
		if coverage > 0 {
			rec.Coverage = &types.CoverageData{Overall: coverage}
		}
		if err := store.StoreExecution(ctx, rec); err != nil {
			t.Fatalf("StoreExecution failed: %v", err)
		}
	}
}

func TestAnalyzeEvolutionHealthyTest(t *testing.T) {
	analyzer, store := newTestAnalyzer(t)
	seed(t, store, "t1", "e1", 20, func(i int) (types.Status, float64, float64) {
		return types.StatusPass, 100, 0.9
	})

	report, err := analyzer.AnalyzeEvolution(context.Background(), "t1", "e1", "")
	if err != nil {
		t.Fatalf("AnalyzeEvolution failed: %v", err)
	}
	if report.ExecutionCount != 20 {
		t.Errorf("expected 20 executions, got %d", report.ExecutionCount)
	}
	if report.Health == nil {
		t.Fatalf("expected a health score")
	}
	h := report.Health
	if h.Overall < 0 || h.Overall > 1 {
		t.Errorf("health out of bounds: %v", h.Overall)
	}
	// Stable pass, flat duration, 90% coverage: 0.4*0.9 + 0.3 + 0.3.
	if h.Overall < 0.95 {
		t.Errorf("healthy test scored too low: %v", h.Overall)
	}
	if h.Stability != 1.0 {
		t.Errorf("all-pass test should have full stability, got %v", h.Stability)
	}
	if len(report.Recommendations) != 0 {
		t.Errorf("healthy test should get no recommendations: %v", report.Recommendations)
	}
}

func TestAnalyzeEvolutionLowCoverageRecommendation(t *testing.T) {
	analyzer, store := newTestAnalyzer(t)
	seed(t, store, "t1", "e1", 10, func(i int) (types.Status, float64, float64) {
		return types.StatusPass, 100, 0.4
	})

	report, err := analyzer.AnalyzeEvolution(context.Background(), "t1", "e1", "")
	if err != nil {
		t.Fatalf("AnalyzeEvolution failed: %v", err)
	}
	if len(report.Recommendations) == 0 {
		t.Errorf("expected a coverage recommendation at 40%%")
	}
}

func TestAnalyzeEvolutionPerformanceDegradation(t *testing.T) {
	analyzer, store := newTestAnalyzer(t)
	// Baseline around 100ms, later executions at 250ms.
	seed(t, store, "t1", "e1", 20, func(i int) (types.Status, float64, float64) {
		if i < 10 {
			return types.StatusPass, 100, 0
		}
		return types.StatusPass, 250, 0
	})

	report, err := analyzer.AnalyzeEvolution(context.Background(), "t1", "e1", "")
	if err != nil {
		t.Fatalf("AnalyzeEvolution failed: %v", err)
	}
	perf := report.Performance
	if perf == nil {
		t.Fatalf("expected performance section")
	}
	if perf.Baseline != 100 {
		t.Errorf("expected baseline 100, got %v", perf.Baseline)
	}
	if len(perf.Regressions) == 0 {
		t.Errorf("expected regressions against the rolling baseline")
	}
	// 2.5x baseline degrades the performance factor to 0.
	if report.Health.Performance != 0 {
		t.Errorf("expected zero performance factor, got %v", report.Health.Performance)
	}
}

func TestAnalyzeEvolutionCoverageChanges(t *testing.T) {
	analyzer, store := newTestAnalyzer(t)
	coverages := []float64{0.90, 0.90, 0.65, 0.65, 0.50}
	seed(t, store, "t1", "e1", len(coverages), func(i int) (types.Status, float64, float64) {
		return types.StatusPass, 100, coverages[i]
	})

	report, err := analyzer.AnalyzeEvolution(context.Background(), "t1", "e1", "")
	if err != nil {
		t.Fatalf("AnalyzeEvolution failed: %v", err)
	}
	cov := report.Coverage
	if cov == nil {
		t.Fatalf("expected coverage section")
	}
	if cov.Current != 0.50 {
		t.Errorf("expected current coverage 0.50, got %v", cov.Current)
	}
	if len(cov.Changes) != 2 {
		t.Fatalf("expected 2 recorded changes, got %d", len(cov.Changes))
	}
	// 25-point drop is major, 15-point drop is moderate.
	if cov.Changes[0].Magnitude != ChangeMajor {
		t.Errorf("expected major change, got %s", cov.Changes[0].Magnitude)
	}
	if cov.Changes[1].Magnitude != ChangeModerate {
		t.Errorf("expected moderate change, got %s", cov.Changes[1].Magnitude)
	}
	if cov.Volatility <= 0 {
		t.Errorf("expected nonzero volatility")
	}
}

func TestAnalyzeEvolutionFlakiness(t *testing.T) {
	analyzer, store := newTestAnalyzer(t)
	seed(t, store, "t1", "e1", 20, func(i int) (types.Status, float64, float64) {
		if i%3 == 0 {
			return types.StatusFail, 100, 0
		}
		return types.StatusPass, 100, 0
	})

	report, err := analyzer.AnalyzeEvolution(context.Background(), "t1", "e1", "")
	if err != nil {
		t.Fatalf("AnalyzeEvolution failed: %v", err)
	}
	flaky := report.Flakiness
	if flaky == nil {
		t.Fatalf("expected flakiness section")
	}
	if flaky.Score <= 0 {
		t.Errorf("expected nonzero flakiness score")
	}
	if flaky.Pattern != PatternRandom {
		t.Errorf("expected random pattern, got %s", flaky.Pattern)
	}
	if report.Health.Stability >= 1 {
		t.Errorf("flaky test should lose stability")
	}
	if len(report.Recommendations) == 0 {
		t.Errorf("expected a stability recommendation")
	}
}

func TestAnalyzeEvolutionEmptyPartition(t *testing.T) {
	analyzer, _ := newTestAnalyzer(t)
	report, err := analyzer.AnalyzeEvolution(context.Background(), "missing", "missing", "")
	if err != nil {
		t.Fatalf("AnalyzeEvolution failed: %v", err)
	}
	if report.ExecutionCount != 0 || report.Health != nil {
		t.Errorf("empty partition should yield a bare report: %+v", report)
	}
}

func TestAnalyzeEvolutionRequiresIDs(t *testing.T) {
	analyzer, _ := newTestAnalyzer(t)
	if _, err := analyzer.AnalyzeEvolution(context.Background(), "", "e1", ""); err == nil {
		t.Errorf("expected error for missing test id")
	}
}

func TestDetectPerformanceRegressions(t *testing.T) {
	analyzer, store := newTestAnalyzer(t)
	seed(t, store, "t1", "e1", 15, func(i int) (types.Status, float64, float64) {
		if i == 14 {
			return types.StatusPass, 400, 0
		}
		return types.StatusPass, 100, 0
	})

	regs, err := analyzer.DetectPerformanceRegressions(context.Background(), "t1", "e1", 0)
	if err != nil {
		t.Fatalf("DetectPerformanceRegressions failed: %v", err)
	}
	if len(regs) != 1 {
		t.Fatalf("expected 1 regression, got %d", len(regs))
	}
	if regs[0].Severity != RegressionSevere {
		t.Errorf("4x baseline should be severe, got %s", regs[0].Severity)
	}
}

func TestCompareEvolution(t *testing.T) {
	analyzer, store := newTestAnalyzer(t)
	seed(t, store, "t1", "good", 15, func(i int) (types.Status, float64, float64) {
		return types.StatusPass, 100, 0.9
	})
	seed(t, store, "t1", "bad", 15, func(i int) (types.Status, float64, float64) {
		if i%2 == 0 {
			return types.StatusFail, 100, 0.3
		}
		return types.StatusPass, 100, 0.3
	})

	cmp, err := analyzer.CompareEvolution(context.Background(), "t1", "good", "bad", "")
	if err != nil {
		t.Fatalf("CompareEvolution failed: %v", err)
	}
	if cmp.HealthDelta <= 0 {
		t.Errorf("expected the good entity to be healthier, delta %v", cmp.HealthDelta)
	}
	if cmp.Similarity < 0 || cmp.Similarity > 1 {
		t.Errorf("similarity out of range: %v", cmp.Similarity)
	}
	if len(cmp.Recommendations) == 0 {
		t.Errorf("expected a comparison recommendation for a large delta")
	}
}
