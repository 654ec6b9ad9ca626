package metrics

import "math"

// CorrelationStrength buckets |r| into qualitative labels.
type CorrelationStrength string

const (
	StrengthVeryWeak   CorrelationStrength = "very_weak"
	StrengthWeak       CorrelationStrength = "weak"
	StrengthModerate   CorrelationStrength = "moderate"
	StrengthStrong     CorrelationStrength = "strong"
	StrengthVeryStrong CorrelationStrength = "very_strong"
)

// CorrelationDirection is the sign of the correlation coefficient.
type CorrelationDirection string

const (
	DirectionPositive CorrelationDirection = "positive"
	DirectionNegative CorrelationDirection = "negative"
	DirectionNone     CorrelationDirection = "none"
)

// Correlation is the result of correlating two metric series.
//
// Significant is an approximation from the t-statistic, not a proper
// hypothesis test; treat it as a labeled estimate.
type Correlation struct {
	// Coefficient is the Pearson correlation coefficient in [-1, 1]
	Coefficient float64 `json:"coefficient"`
	// Strength buckets |coefficient|
	Strength CorrelationStrength `json:"strength"`
	// Direction is the sign of the coefficient
	Direction CorrelationDirection `json:"direction"`
	// TStatistic is the t value used for the significance proxy
	TStatistic float64 `json:"t_statistic"`
	// Significant is the simplified |t| > 2 significance proxy
	Significant bool `json:"significant"`
	// SampleSize is the number of paired observations used
	SampleSize int `json:"sample_size"`
}

// Correlate computes the Pearson correlation between two series.
// Unequal lengths are zip-truncated to the shorter one. Fewer than 3
// pairs, or a zero-variance series, yields a nil result.
func Correlate(a, b []float64) *Correlation {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 3 {
		return nil
	}
	a, b = a[:n], b[:n]

	var sumA, sumB float64
	for i := 0; i < n; i++ {
		sumA += a[i]
		sumB += b[i]
	}
	meanA := sumA / float64(n)
	meanB := sumB / float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return nil
	}

	r := cov / math.Sqrt(varA*varB)
	if r > 1 {
		r = 1
	} else if r < -1 {
		r = -1
	}

	c := &Correlation{Coefficient: r, SampleSize: n}

	abs := math.Abs(r)
	switch {
	case abs < 0.2:
		c.Strength = StrengthVeryWeak
	case abs < 0.4:
		c.Strength = StrengthWeak
	case abs < 0.6:
		c.Strength = StrengthModerate
	case abs < 0.8:
		c.Strength = StrengthStrong
	default:
		c.Strength = StrengthVeryStrong
	}

	switch {
	case r > 0:
		c.Direction = DirectionPositive
	case r < 0:
		c.Direction = DirectionNegative
	default:
		c.Direction = DirectionNone
	}

	// Simplified significance proxy from the t-statistic.
	if abs < 1 {
		c.TStatistic = r * math.Sqrt(float64(n-2)/(1-r*r))
	} else {
		c.TStatistic = math.Inf(int(math.Copysign(1, r)))
	}
	c.Significant = math.Abs(c.TStatistic) > 2
	return c
}
