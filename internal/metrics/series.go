// Package metrics is the stateless statistical engine: metric
// extraction, trend fitting, descriptive statistics, correlation,
// anomaly detection, prediction, and time bucketing. Every function
// is deterministic over its input sequence; there is no hidden state,
// which keeps each piece independently unit-testable.
package metrics

import (
	"time"

	"github.com/testpulse/pulse/internal/types"
)

// ExtractSeries maps each execution record to a scalar observation
// for the named metric:
//
//	coverage       -> coverage.overall (records without coverage are skipped)
//	success_rate   -> 1 for pass, 0 otherwise
//	execution_time -> duration in milliseconds
//	flakiness      -> 1 for fail, 0 otherwise
//
// The input order is preserved.
func ExtractSeries(records []*types.ExecutionRecord, metric types.TrendMetric) []types.TimePoint {
	out := make([]types.TimePoint, 0, len(records))
	for _, rec := range records {
		switch metric {
		case types.MetricCoverage:
			if rec.Coverage == nil {
				continue
			}
			out = append(out, types.TimePoint{Timestamp: rec.Timestamp, Value: rec.Coverage.Overall})
		case types.MetricSuccessRate:
			v := 0.0
			if rec.Status == types.StatusPass {
				v = 1.0
			}
			out = append(out, types.TimePoint{Timestamp: rec.Timestamp, Value: v})
		case types.MetricExecutionTime:
			out = append(out, types.TimePoint{Timestamp: rec.Timestamp, Value: rec.Duration})
		case types.MetricFlakiness:
			v := 0.0
			if rec.Status == types.StatusFail {
				v = 1.0
			}
			out = append(out, types.TimePoint{Timestamp: rec.Timestamp, Value: v})
		}
	}
	return out
}

// FlakinessScore returns the failure ratio over the trailing window
// of executions. Fewer than 10 executions always score 0: there is
// not enough signal to call a test flaky.
func FlakinessScore(records []*types.ExecutionRecord, window int) float64 {
	if len(records) < 10 || window < 1 {
		return 0
	}
	if window > len(records) {
		window = len(records)
	}
	tail := records[len(records)-window:]
	failures := 0
	for _, rec := range tail {
		if rec.Status == types.StatusFail {
			failures++
		}
	}
	return float64(failures) / float64(window)
}

// AggregationInterval is a bucketing window for series aggregation.
type AggregationInterval string

const (
	// IntervalHour buckets observations by hour
	IntervalHour AggregationInterval = "hour"
	// IntervalDay buckets observations by calendar day
	IntervalDay AggregationInterval = "day"
	// IntervalWeek buckets observations by ISO week start (Monday)
	IntervalWeek AggregationInterval = "week"
	// IntervalMonth buckets observations by calendar month
	IntervalMonth AggregationInterval = "month"
)

// Bucket is one aggregation window over a series.
type Bucket struct {
	// Start is the inclusive beginning of the window
	Start time.Time `json:"start"`
	// Count is the number of observations in the window
	Count int `json:"count"`
	// Mean is the arithmetic mean of the window's values
	Mean float64 `json:"mean"`
	// Min is the smallest value in the window
	Min float64 `json:"min"`
	// Max is the largest value in the window
	Max float64 `json:"max"`
	// Variance is the population variance of the window's values
	Variance float64 `json:"variance"`
}

// Aggregate buckets the series into hour/day/week/month windows,
// returning per-bucket count, mean, min, max, and variance, ordered
// by window start.
func Aggregate(points []types.TimePoint, interval AggregationInterval) []Bucket {
	if len(points) == 0 {
		return nil
	}

	grouped := make(map[time.Time][]float64)
	for _, p := range points {
		start := bucketStart(p.Timestamp, interval)
		grouped[start] = append(grouped[start], p.Value)
	}

	out := make([]Bucket, 0, len(grouped))
	for start, values := range grouped {
		b := Bucket{Start: start, Count: len(values), Min: values[0], Max: values[0]}
		sum := 0.0
		for _, v := range values {
			sum += v
			if v < b.Min {
				b.Min = v
			}
			if v > b.Max {
				b.Max = v
			}
		}
		b.Mean = sum / float64(len(values))
		for _, v := range values {
			d := v - b.Mean
			b.Variance += d * d
		}
		b.Variance /= float64(len(values))
		out = append(out, b)
	}

	// Map iteration order is random; callers get chronological buckets.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Start.Before(out[j-1].Start); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// SeriesValues extracts the value column from a series.
func SeriesValues(points []types.TimePoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}

// bucketStart truncates ts to the start of its aggregation window.
func bucketStart(ts time.Time, interval AggregationInterval) time.Time {
	ts = ts.UTC()
	switch interval {
	case IntervalHour:
		return ts.Truncate(time.Hour)
	case IntervalWeek:
		day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7 // Monday start
		return day.AddDate(0, 0, -offset)
	case IntervalMonth:
		return time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
	default: // IntervalDay
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	}
}
