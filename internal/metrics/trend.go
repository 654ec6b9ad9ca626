package metrics

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/testpulse/pulse/internal/types"
)

// slopeDeadZone is the |slope| below which a trend is classified
// stable rather than increasing or decreasing.
const slopeDeadZone = 1e-3

// DetectTrend fits an ordinary least squares line over the series
// (observation index as x, metric value as y) and classifies the
// direction. It requires at least 3 points; with fewer it returns nil
// rather than erroring, since "not enough data yet" is an expected
// steady state.
//
// Confidence is the coefficient of determination (R²) clamped to
// [0, 1]. A perfectly constant series has zero slope and is reported
// stable with full confidence.
func DetectTrend(points []types.TimePoint, metric types.TrendMetric) *types.Trend {
	if len(points) < 3 {
		return nil
	}

	n := float64(len(points))
	var sumX, sumY, sumXY, sumXX float64
	for i, p := range points {
		x := float64(i)
		sumX += x
		sumY += p.Value
		sumXY += x * p.Value
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return nil
	}
	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	// R² = 1 - SSres/SStot. A zero-variance series fits exactly.
	meanY := sumY / n
	var ssTot, ssRes float64
	for i, p := range points {
		pred := intercept + slope*float64(i)
		ssRes += (p.Value - pred) * (p.Value - pred)
		ssTot += (p.Value - meanY) * (p.Value - meanY)
	}
	confidence := 1.0
	if ssTot > 0 {
		confidence = 1 - ssRes/ssTot
	}
	confidence = clamp01(confidence)

	direction := types.TrendStable
	if math.Abs(slope) >= slopeDeadZone {
		if slope > 0 {
			direction = types.TrendIncreasing
		} else {
			direction = types.TrendDecreasing
		}
	}

	return &types.Trend{
		TrendID:    uuid.New().String(),
		Metric:     metric,
		Direction:  direction,
		Magnitude:  math.Abs(slope),
		Confidence: confidence,
		StartDate:  points[0].Timestamp,
		EndDate:    points[len(points)-1].Timestamp,
		DataPoints: points,
	}
}

// DetectTrends computes one trend per known metric over the records,
// omitting metrics with insufficient data.
func DetectTrends(records []*types.ExecutionRecord, testID, entityID, period string) []*types.Trend {
	metricsToFit := []types.TrendMetric{
		types.MetricCoverage,
		types.MetricSuccessRate,
		types.MetricExecutionTime,
		types.MetricFlakiness,
	}
	var out []*types.Trend
	for _, metric := range metricsToFit {
		trend := DetectTrend(ExtractSeries(records, metric), metric)
		if trend == nil {
			continue
		}
		trend.TestID = testID
		trend.EntityID = entityID
		trend.Period = period
		out = append(out, trend)
	}
	return out
}

// Slope recovers the signed per-observation slope from a trend.
func Slope(trend *types.Trend) float64 {
	if trend == nil {
		return 0
	}
	switch trend.Direction {
	case types.TrendDecreasing:
		return -trend.Magnitude
	case types.TrendIncreasing:
		return trend.Magnitude
	}
	return 0
}

// evenSpacing estimates the mean gap between consecutive timestamps,
// used to place extrapolated points.
func evenSpacing(points []types.TimePoint) time.Duration {
	if len(points) < 2 {
		return 24 * time.Hour
	}
	total := points[len(points)-1].Timestamp.Sub(points[0].Timestamp)
	if total <= 0 {
		return 24 * time.Hour
	}
	return total / time.Duration(len(points)-1)
}

// clamp01 clamps v to [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
