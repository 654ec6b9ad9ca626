package metrics

import (
	"math"
	"time"

	"github.com/testpulse/pulse/internal/types"
)

// PredictionMethod names the extrapolation strategy used.
type PredictionMethod string

const (
	// MethodLinear extrapolates the fitted trend line
	MethodLinear PredictionMethod = "linear"
	// MethodMovingAverage projects the trailing 5-point mean
	MethodMovingAverage PredictionMethod = "moving_average"
)

// movingAverageWindow is the trailing window for the fallback method.
const movingAverageWindow = 5

// Prediction is one projected future observation with a 95%-style
// confidence interval derived from the historical variance.
type Prediction struct {
	// Timestamp is the projected observation time
	Timestamp time.Time `json:"timestamp"`
	// Value is the projected value
	Value float64 `json:"value"`
	// Lower is the interval lower bound, floored at 0
	Lower float64 `json:"lower"`
	// Upper is the interval upper bound
	Upper float64 `json:"upper"`
	// Method is the strategy that produced this point
	Method PredictionMethod `json:"method"`
}

// Predict projects n future points from the series. Linear
// extrapolation is used when the supplied trend is confident
// (confidence > 0.8) and not stable; otherwise a 5-point moving
// average is projected flat. The interval is ±1.96·√variance of the
// historical series with the lower bound floored at 0.
func Predict(points []types.TimePoint, trend *types.Trend, n int) []Prediction {
	if len(points) < 3 || n < 1 {
		return nil
	}

	method := MethodMovingAverage
	if trend != nil && trend.Confidence > 0.8 && trend.Direction != types.TrendStable {
		method = MethodLinear
	}

	values := SeriesValues(points)
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	margin := 1.96 * math.Sqrt(variance)

	var base, step float64
	switch method {
	case MethodLinear:
		slope := Slope(trend)
		base = values[len(values)-1]
		step = slope
	default:
		window := movingAverageWindow
		if window > len(values) {
			window = len(values)
		}
		sum := 0.0
		for _, v := range values[len(values)-window:] {
			sum += v
		}
		base = sum / float64(window)
		step = 0
	}

	spacing := evenSpacing(points)
	last := points[len(points)-1].Timestamp

	out := make([]Prediction, 0, n)
	for i := 1; i <= n; i++ {
		value := base + step*float64(i)
		lower := value - margin
		if lower < 0 {
			lower = 0
		}
		out = append(out, Prediction{
			Timestamp: last.Add(spacing * time.Duration(i)),
			Value:     value,
			Lower:     lower,
			Upper:     value + margin,
			Method:    method,
		})
	}
	return out
}
