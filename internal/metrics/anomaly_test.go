package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testpulse/pulse/internal/types"
)

func TestDetectAnomaliesFlagsOutlier(t *testing.T) {
	points := seriesAt(100, 101, 99, 100, 102, 98, 100, 101, 99, 100, 500)
	anomalies := DetectAnomalies(points, 2.0)
	require.Len(t, anomalies, 1)
	assert.Equal(t, 10, anomalies[0].Index)
	assert.Equal(t, 500.0, anomalies[0].Value)
	assert.Greater(t, anomalies[0].ZScore, 2.0)
}

func TestDetectAnomaliesSeverityBuckets(t *testing.T) {
	// One extreme outlier in an otherwise tight series scores a very
	// high z relative to the threshold of 1.0.
	points := seriesAt(10, 10, 10, 10, 10, 10, 10, 10, 10, 11)
	anomalies := DetectAnomalies(points, 1.0)
	require.NotEmpty(t, anomalies)
	assert.Equal(t, AnomalySevere, anomalies[0].Severity)
}

func TestDetectAnomaliesQuietSeries(t *testing.T) {
	// Constant series has zero variance and no anomalies.
	assert.Nil(t, DetectAnomalies(seriesAt(5, 5, 5, 5), 2.0))
	// Too few points.
	assert.Nil(t, DetectAnomalies(seriesAt(1, 2), 2.0))
}

func TestDetectAnomaliesDefaultSensitivity(t *testing.T) {
	points := seriesAt(100, 101, 99, 100, 102, 98, 100, 101, 99, 100, 500)
	withDefault := DetectAnomalies(points, 0)
	explicit := DetectAnomalies(points, 2.0)
	assert.Equal(t, len(explicit), len(withDefault))
}

func TestPredictLinearWhenConfident(t *testing.T) {
	points := seriesAt(100, 110, 120, 130, 140)
	trend := DetectTrend(points, types.MetricExecutionTime)
	require.NotNil(t, trend)

	preds := Predict(points, trend, 3)
	require.Len(t, preds, 3)
	assert.Equal(t, MethodLinear, preds[0].Method)
	assert.InDelta(t, 150.0, preds[0].Value, 1e-6)
	assert.InDelta(t, 170.0, preds[2].Value, 1e-6)
	for _, p := range preds {
		assert.LessOrEqual(t, p.Lower, p.Value)
		assert.GreaterOrEqual(t, p.Upper, p.Value)
	}
}

func TestPredictFallsBackToMovingAverage(t *testing.T) {
	// A noisy series fits poorly, so projection is the trailing mean.
	points := seriesAt(100, 150, 90, 160, 95, 155, 100, 150)
	trend := DetectTrend(points, types.MetricExecutionTime)

	preds := Predict(points, trend, 2)
	require.Len(t, preds, 2)
	assert.Equal(t, MethodMovingAverage, preds[0].Method)
	// Flat projection.
	assert.Equal(t, preds[0].Value, preds[1].Value)
}

func TestPredictLowerBoundFloor(t *testing.T) {
	points := seriesAt(5, 50, 5, 50, 5, 50)
	preds := Predict(points, nil, 1)
	require.Len(t, preds, 1)
	assert.GreaterOrEqual(t, preds[0].Lower, 0.0)
}

func TestPredictTooFewPoints(t *testing.T) {
	assert.Nil(t, Predict(seriesAt(1, 2), nil, 3))
	assert.Nil(t, Predict(seriesAt(1, 2, 3), nil, 0))
}
