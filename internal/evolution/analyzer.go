// Package evolution is the higher-order analyzer: it composes the
// metrics engine over stored history to describe how a test's
// coverage, performance, and stability have evolved, and condenses
// that into a health score.
package evolution

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/testpulse/pulse/internal/config"
	"github.com/testpulse/pulse/internal/history"
	"github.com/testpulse/pulse/internal/metrics"
	"github.com/testpulse/pulse/internal/types"
)

// Analyzer computes evolution views over stored history. It holds no
// state of its own; every analysis is recomputed from the store.
type Analyzer struct {
	store *history.Store
	cfg   *config.Config
	log   zerolog.Logger
}

// New creates an analyzer over the given history store.
func New(store *history.Store, cfg *config.Config, log zerolog.Logger) *Analyzer {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Analyzer{
		store: store,
		cfg:   cfg,
		log:   log.With().Str("component", "evolution").Logger(),
	}
}

// ChangeMagnitude classifies the size of a coverage shift.
type ChangeMagnitude string

const (
	// ChangeMinor is a shift under 10 percentage points
	ChangeMinor ChangeMagnitude = "minor"
	// ChangeModerate is a shift between 10 and 20 percentage points
	ChangeModerate ChangeMagnitude = "moderate"
	// ChangeMajor is a shift over 20 percentage points
	ChangeMajor ChangeMagnitude = "major"
)

// CoverageChange is one observed shift in coverage between
// consecutive executions that carried coverage data.
type CoverageChange struct {
	Timestamp time.Time       `json:"timestamp"`
	From      float64         `json:"from"`
	To        float64         `json:"to"`
	Delta     float64         `json:"delta"`
	Magnitude ChangeMagnitude `json:"magnitude"`
}

// CoverageEvolution describes how coverage moved over the window.
type CoverageEvolution struct {
	Current    float64          `json:"current"`
	Trend      *types.Trend     `json:"trend,omitempty"`
	Volatility float64          `json:"volatility"`
	Changes    []CoverageChange `json:"changes,omitempty"`
}

// RegressionSeverity classifies a performance regression against the
// rolling baseline.
type RegressionSeverity string

const (
	// RegressionMinor is a ratio between 1.5x and 2x baseline
	RegressionMinor RegressionSeverity = "minor"
	// RegressionModerate is a ratio between 2x and 3x baseline
	RegressionModerate RegressionSeverity = "moderate"
	// RegressionSevere is a ratio at or beyond 3x baseline
	RegressionSevere RegressionSeverity = "severe"
)

// Regression is one execution whose duration exceeded the rolling
// baseline by the regression ratio.
type Regression struct {
	Timestamp time.Time          `json:"timestamp"`
	Duration  float64            `json:"duration"`
	Baseline  float64            `json:"baseline"`
	Ratio     float64            `json:"ratio"`
	Severity  RegressionSeverity `json:"severity"`
}

// PerformanceEvolution describes duration behavior over the window.
type PerformanceEvolution struct {
	// Baseline is the mean duration of the first executions in the window
	Baseline float64 `json:"baseline"`
	// Current is the most recent duration
	Current float64 `json:"current"`
	// Trend is the fitted duration trend, if enough data exists
	Trend *types.Trend `json:"trend,omitempty"`
	// Regressions lists executions that exceeded the rolling baseline
	Regressions []Regression `json:"regressions,omitempty"`
}

// FlakinessPattern labels the temporal shape of failures.
type FlakinessPattern string

const (
	// PatternNone means no failures were observed
	PatternNone FlakinessPattern = "none"
	// PatternRandom means failures are scattered without clustering
	PatternRandom FlakinessPattern = "random"
)

// FlakinessEvolution describes failure behavior over the window.
type FlakinessEvolution struct {
	// Score is the trailing-window failure ratio
	Score float64 `json:"score"`
	// Pattern labels the temporal failure shape
	Pattern FlakinessPattern `json:"pattern"`
	// Confidence reflects how much failure signal backs the pattern
	Confidence float64 `json:"confidence"`
	// FailureCount is the number of failures in the window
	FailureCount int `json:"failure_count"`
}

// Report is the full evolution analysis for one partition.
type Report struct {
	TestID          string                `json:"test_id"`
	EntityID        string                `json:"entity_id"`
	Period          string                `json:"period"`
	GeneratedAt     time.Time             `json:"generated_at"`
	ExecutionCount  int                   `json:"execution_count"`
	Coverage        *CoverageEvolution    `json:"coverage,omitempty"`
	Performance     *PerformanceEvolution `json:"performance,omitempty"`
	Flakiness       *FlakinessEvolution   `json:"flakiness,omitempty"`
	Health          *types.HealthScore    `json:"health,omitempty"`
	Recommendations []string              `json:"recommendations,omitempty"`
}

// AnalyzeEvolution computes the full evolution report for a partition
// over the period (empty uses the configured default). Partitions with
// no history yield a report with zero executions, not an error.
func (a *Analyzer) AnalyzeEvolution(ctx context.Context, testID, entityID, period string) (*Report, error) {
	if testID == "" || entityID == "" {
		return nil, fmt.Errorf("evolution analysis requires both test id and entity id")
	}
	if period == "" {
		period = a.cfg.TrendAnalysisPeriod
	}

	records, err := a.store.QueryHistory(ctx, types.HistoryQuery{TestID: testID, EntityID: entityID})
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	if len(records) > a.cfg.MaxTrendDataPoints {
		records = records[len(records)-a.cfg.MaxTrendDataPoints:]
	}

	report := &Report{
		TestID:         testID,
		EntityID:       entityID,
		Period:         period,
		GeneratedAt:    time.Now().UTC(),
		ExecutionCount: len(records),
	}
	if len(records) == 0 {
		return report, nil
	}

	report.Coverage = a.analyzeCoverage(records, period)
	report.Performance = a.analyzePerformance(records, period)
	report.Flakiness = a.analyzeFlakiness(records)
	report.Health = a.healthScore(report)

	if report.Coverage != nil && report.Coverage.Current < 0.7 {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("coverage is %.0f%%: add assertions or cases to raise it above 70%%", report.Coverage.Current*100))
	}
	if report.Health != nil && report.Health.Stability < 0.8 {
		report.Recommendations = append(report.Recommendations,
			"stability is below 0.8: investigate intermittent failures before trusting results")
	}
	return report, nil
}

func (a *Analyzer) analyzeCoverage(records []*types.ExecutionRecord, period string) *CoverageEvolution {
	series := metrics.ExtractSeries(records, types.MetricCoverage)
	if len(series) == 0 {
		return nil
	}

	ev := &CoverageEvolution{Current: series[len(series)-1].Value}
	if trend := metrics.DetectTrend(series, types.MetricCoverage); trend != nil {
		trend.Period = period
		ev.Trend = trend
	}

	values := metrics.SeriesValues(series)
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	ev.Volatility = math.Sqrt(variance / float64(len(values)))

	for i := 1; i < len(series); i++ {
		delta := series[i].Value - series[i-1].Value
		abs := math.Abs(delta)
		if abs < 0.01 {
			continue
		}
		change := CoverageChange{
			Timestamp: series[i].Timestamp,
			From:      series[i-1].Value,
			To:        series[i].Value,
			Delta:     delta,
		}
		switch {
		case abs > 0.2:
			change.Magnitude = ChangeMajor
		case abs >= 0.1:
			change.Magnitude = ChangeModerate
		default:
			change.Magnitude = ChangeMinor
		}
		ev.Changes = append(ev.Changes, change)
	}
	return ev
}

func (a *Analyzer) analyzePerformance(records []*types.ExecutionRecord, period string) *PerformanceEvolution {
	series := metrics.ExtractSeries(records, types.MetricExecutionTime)
	if len(series) == 0 {
		return nil
	}

	baselineN := a.cfg.BaselineWindow
	if baselineN > len(series) {
		baselineN = len(series)
	}
	baseline := 0.0
	for _, p := range series[:baselineN] {
		baseline += p.Value
	}
	baseline /= float64(baselineN)

	ev := &PerformanceEvolution{
		Baseline: baseline,
		Current:  series[len(series)-1].Value,
	}
	if trend := metrics.DetectTrend(series, types.MetricExecutionTime); trend != nil {
		trend.Period = period
		ev.Trend = trend
	}
	ev.Regressions = rollingRegressions(series, a.cfg.BaselineWindow, a.cfg.PerformanceRegressionThreshold)
	return ev
}

// rollingRegressions flags points exceeding the mean of the preceding
// window by the regression ratio. The first window seeds the baseline
// and is never flagged.
func rollingRegressions(series []types.TimePoint, window int, threshold float64) []Regression {
	if window < 1 || len(series) <= window {
		return nil
	}
	var out []Regression
	for i := window; i < len(series); i++ {
		base := 0.0
		for _, p := range series[i-window : i] {
			base += p.Value
		}
		base /= float64(window)
		if base <= 0 {
			continue
		}
		ratio := series[i].Value / base
		if ratio <= threshold {
			continue
		}
		reg := Regression{
			Timestamp: series[i].Timestamp,
			Duration:  series[i].Value,
			Baseline:  base,
			Ratio:     ratio,
		}
		switch {
		case ratio >= 3:
			reg.Severity = RegressionSevere
		case ratio >= 2:
			reg.Severity = RegressionModerate
		default:
			reg.Severity = RegressionMinor
		}
		out = append(out, reg)
	}
	return out
}

func (a *Analyzer) analyzeFlakiness(records []*types.ExecutionRecord) *FlakinessEvolution {
	ev := &FlakinessEvolution{
		Score:   metrics.FlakinessScore(records, a.cfg.FlakinessWindow),
		Pattern: PatternNone,
	}
	for _, rec := range records {
		if rec.Status == types.StatusFail {
			ev.FailureCount++
		}
	}
	if ev.FailureCount > 0 {
		// Finer pattern discrimination (environmental, time-of-day)
		// needs environment labels correlated across partitions.
		ev.Pattern = PatternRandom
		failRate := float64(ev.FailureCount) / float64(len(records))
		ev.Confidence = clamp01(failRate * 2)
	}
	return ev
}

// healthScore condenses the report into the weighted composite:
// 0.4 coverage + 0.3 performance + 0.3 stability, clamped to [0, 1].
func (a *Analyzer) healthScore(report *Report) *types.HealthScore {
	score := &types.HealthScore{Trend: 0.5}

	if report.Coverage != nil {
		score.Coverage = clamp01(report.Coverage.Current)
	}

	score.Performance = 1.0
	if report.Performance != nil && report.Performance.Baseline > 0 {
		ratio := report.Performance.Current / report.Performance.Baseline
		score.Performance = clamp01(1 - (ratio - 1))
	}

	flakiness := 0.0
	if report.Flakiness != nil {
		flakiness = report.Flakiness.Score
	}
	score.Stability = clamp01(1 - flakiness)

	score.Overall = clamp01(0.4*score.Coverage + 0.3*score.Performance + 0.3*score.Stability)
	return score
}

// DetectPerformanceRegressions scans the last 30 days of a partition
// for executions exceeding the rolling baseline. A baselineWindow of 0
// uses the configured default.
func (a *Analyzer) DetectPerformanceRegressions(ctx context.Context, testID, entityID string, baselineWindow int) ([]Regression, error) {
	if baselineWindow <= 0 {
		baselineWindow = a.cfg.BaselineWindow
	}
	records, err := a.store.QueryHistory(ctx, types.HistoryQuery{
		TestID:   testID,
		EntityID: entityID,
		Start:    time.Now().AddDate(0, 0, -30),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	series := metrics.ExtractSeries(records, types.MetricExecutionTime)
	return rollingRegressions(series, baselineWindow, a.cfg.PerformanceRegressionThreshold), nil
}

// Comparison relates the evolution of one test across two entities.
type Comparison struct {
	TestID          string    `json:"test_id"`
	EntityA         *Report   `json:"entity_a"`
	EntityB         *Report   `json:"entity_b"`
	HealthDelta     float64   `json:"health_delta"`
	Similarity      float64   `json:"similarity"`
	Recommendations []string  `json:"recommendations,omitempty"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// CompareEvolution contrasts how a test behaves against two entities.
// Similarity is a coarse health-distance measure; treat it as a
// ranking signal, not a metric.
func (a *Analyzer) CompareEvolution(ctx context.Context, testID, entityA, entityB, period string) (*Comparison, error) {
	reportA, err := a.AnalyzeEvolution(ctx, testID, entityA, period)
	if err != nil {
		return nil, err
	}
	reportB, err := a.AnalyzeEvolution(ctx, testID, entityB, period)
	if err != nil {
		return nil, err
	}

	cmp := &Comparison{
		TestID:      testID,
		EntityA:     reportA,
		EntityB:     reportB,
		GeneratedAt: time.Now().UTC(),
	}

	var healthA, healthB float64
	if reportA.Health != nil {
		healthA = reportA.Health.Overall
	}
	if reportB.Health != nil {
		healthB = reportB.Health.Overall
	}
	cmp.HealthDelta = healthA - healthB
	cmp.Similarity = clamp01(1 - math.Abs(cmp.HealthDelta))

	switch {
	case cmp.HealthDelta > 0.2:
		cmp.Recommendations = append(cmp.Recommendations,
			fmt.Sprintf("the test is markedly healthier against %s: review its coverage of %s", entityA, entityB))
	case cmp.HealthDelta < -0.2:
		cmp.Recommendations = append(cmp.Recommendations,
			fmt.Sprintf("the test is markedly healthier against %s: review its coverage of %s", entityB, entityA))
	}
	return cmp, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
