package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribeBasics(t *testing.T) {
	d := Describe([]float64{1, 2, 3, 4, 5})
	assert.Equal(t, 5, d.Count)
	assert.Equal(t, 1.0, d.Min)
	assert.Equal(t, 5.0, d.Max)
	assert.Equal(t, 3.0, d.Mean)
	assert.Equal(t, 3.0, d.Median)
	assert.InDelta(t, 2.0, d.Variance, 1e-9)
	// Symmetric sample has zero skewness.
	assert.InDelta(t, 0.0, d.Skewness, 1e-9)
}

func TestDescribePercentileInterpolation(t *testing.T) {
	d := Describe([]float64{10, 20, 30, 40})
	// rank 0.25*(4-1)=0.75 interpolates between 10 and 20.
	assert.InDelta(t, 17.5, d.Percentiles[25], 1e-9)
	assert.InDelta(t, 25.0, d.Percentiles[50], 1e-9)
	assert.InDelta(t, 32.5, d.Percentiles[75], 1e-9)
	assert.InDelta(t, 39.7, d.Percentiles[99], 1e-9)
}

func TestDescribeMode(t *testing.T) {
	d := Describe([]float64{1, 2, 2, 3})
	require.NotNil(t, d.Mode)
	assert.Equal(t, 2.0, *d.Mode)

	// Tie between 1 and 2 yields no mode.
	assert.Nil(t, Describe([]float64{1, 1, 2, 2}).Mode)
	// All unique yields no mode.
	assert.Nil(t, Describe([]float64{1, 2, 3}).Mode)
}

func TestDescribeEmpty(t *testing.T) {
	d := Describe(nil)
	assert.Equal(t, 0, d.Count)
	assert.Equal(t, 0.0, d.Mean)
}

func TestDescribeSingleValue(t *testing.T) {
	d := Describe([]float64{42})
	assert.Equal(t, 42.0, d.Median)
	assert.Equal(t, 0.0, d.StdDev)
	assert.Equal(t, 42.0, d.Percentiles[99])
}

func TestCorrelatePerfect(t *testing.T) {
	c := Correlate([]float64{1, 2, 3, 4, 5}, []float64{2, 4, 6, 8, 10})
	require.NotNil(t, c)
	assert.InDelta(t, 1.0, c.Coefficient, 1e-9)
	assert.Equal(t, StrengthVeryStrong, c.Strength)
	assert.Equal(t, DirectionPositive, c.Direction)
	assert.True(t, c.Significant)
}

func TestCorrelateNegative(t *testing.T) {
	c := Correlate([]float64{1, 2, 3, 4}, []float64{8, 6, 4, 2})
	require.NotNil(t, c)
	assert.InDelta(t, -1.0, c.Coefficient, 1e-9)
	assert.Equal(t, DirectionNegative, c.Direction)
}

func TestCorrelateZipTruncates(t *testing.T) {
	c := Correlate([]float64{1, 2, 3, 4, 5, 6}, []float64{2, 4, 6})
	require.NotNil(t, c)
	assert.Equal(t, 3, c.SampleSize)
}

func TestCorrelateDegenerate(t *testing.T) {
	// Too few pairs.
	assert.Nil(t, Correlate([]float64{1, 2}, []float64{3, 4}))
	// Zero variance on one side.
	assert.Nil(t, Correlate([]float64{5, 5, 5, 5}, []float64{1, 2, 3, 4}))
}
