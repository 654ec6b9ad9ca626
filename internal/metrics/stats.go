package metrics

import (
	"math"
	"sort"
)

// Descriptive holds the full set of descriptive statistics for a
// sample. Zero values are returned for moments that need more data
// than the sample provides.
type Descriptive struct {
	// Count is the sample size
	Count int `json:"count"`
	// Min is the smallest value
	Min float64 `json:"min"`
	// Max is the largest value
	Max float64 `json:"max"`
	// Mean is the arithmetic mean
	Mean float64 `json:"mean"`
	// Median is the 50th percentile
	Median float64 `json:"median"`
	// Mode is the most frequent value; nil when no single value wins
	Mode *float64 `json:"mode,omitempty"`
	// Variance is the population variance
	Variance float64 `json:"variance"`
	// StdDev is the population standard deviation
	StdDev float64 `json:"std_dev"`
	// Skewness is the sample skewness (adjusted Fisher-Pearson)
	Skewness float64 `json:"skewness"`
	// Kurtosis is the sample excess kurtosis
	Kurtosis float64 `json:"kurtosis"`
	// Percentiles holds the 25/50/75/90/95/99 order statistics
	Percentiles map[int]float64 `json:"percentiles"`
}

// percentileRanks are the percentiles computed by Describe.
var percentileRanks = []int{25, 50, 75, 90, 95, 99}

// Describe computes descriptive statistics over the sample. An empty
// sample yields a zeroed result rather than an error.
func Describe(values []float64) Descriptive {
	d := Descriptive{Count: len(values), Percentiles: make(map[int]float64)}
	if len(values) == 0 {
		return d
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	d.Min = sorted[0]
	d.Max = sorted[len(sorted)-1]

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	n := float64(len(sorted))
	d.Mean = sum / n

	var m2, m3, m4 float64
	for _, v := range sorted {
		diff := v - d.Mean
		m2 += diff * diff
		m3 += diff * diff * diff
		m4 += diff * diff * diff * diff
	}
	d.Variance = m2 / n
	d.StdDev = math.Sqrt(d.Variance)

	// Adjusted Fisher-Pearson skewness and sample excess kurtosis;
	// both need enough observations for their correction factors.
	if len(sorted) > 2 && d.StdDev > 0 {
		g1 := (m3 / n) / math.Pow(d.StdDev, 3)
		d.Skewness = g1 * math.Sqrt(n*(n-1)) / (n - 2)
	}
	if len(sorted) > 3 && d.Variance > 0 {
		s2 := m2 / (n - 1)
		d.Kurtosis = (n*(n+1))/((n-1)*(n-2)*(n-3))*(m4/(s2*s2)) -
			3*(n-1)*(n-1)/((n-2)*(n-3))
	}

	for _, rank := range percentileRanks {
		d.Percentiles[rank] = percentile(sorted, float64(rank))
	}
	d.Median = d.Percentiles[50]
	d.Mode = mode(sorted)
	return d
}

// percentile computes the p-th percentile of a sorted sample by
// linear interpolation between order statistics.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// mode returns the most frequent value in a sorted sample, or nil
// when several values tie for the highest frequency.
func mode(sorted []float64) *float64 {
	if len(sorted) == 0 {
		return nil
	}

	best, bestCount := sorted[0], 1
	cur, curCount := sorted[0], 1
	tie := false
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == cur {
			curCount++
		} else {
			cur, curCount = sorted[i], 1
		}
		if curCount > bestCount {
			best, bestCount = cur, curCount
			tie = false
		} else if curCount == bestCount && cur != best {
			tie = true
		}
	}
	if tie || bestCount == 1 && len(sorted) > 1 {
		return nil
	}
	return &best
}

