package metrics

import (
	"math"
	"time"

	"github.com/testpulse/pulse/internal/types"
)

// AnomalySeverity classifies how far an observation strays from the
// sensitivity threshold.
type AnomalySeverity string

const (
	// AnomalyMild is a z-score between 1x and 1.5x the threshold
	AnomalyMild AnomalySeverity = "mild"
	// AnomalyModerate is a z-score between 1.5x and 2x the threshold
	AnomalyModerate AnomalySeverity = "moderate"
	// AnomalySevere is a z-score at or beyond 2x the threshold
	AnomalySevere AnomalySeverity = "severe"
)

// Anomaly is an observation whose z-score exceeds the sensitivity
// threshold.
type Anomaly struct {
	// Index is the observation's position in the input series
	Index int `json:"index"`
	// Timestamp is the observation's timestamp
	Timestamp time.Time `json:"timestamp"`
	// Value is the anomalous value
	Value float64 `json:"value"`
	// ZScore is |value - mean| / stddev
	ZScore float64 `json:"z_score"`
	// Severity classifies the z-score against the threshold
	Severity AnomalySeverity `json:"severity"`
}

// DetectAnomalies flags points whose z-score exceeds the sensitivity
// threshold (2.0 by convention). A series with fewer than 3 points or
// zero variance has no anomalies.
func DetectAnomalies(points []types.TimePoint, sensitivity float64) []Anomaly {
	if sensitivity <= 0 {
		sensitivity = 2.0
	}
	if len(points) < 3 {
		return nil
	}

	values := make([]float64, len(points))
	sum := 0.0
	for i, p := range points {
		values[i] = p.Value
		sum += p.Value
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return nil
	}

	var out []Anomaly
	for i, p := range points {
		z := math.Abs(p.Value-mean) / stddev
		if z <= sensitivity {
			continue
		}
		severity := AnomalyMild
		if z >= 2*sensitivity {
			severity = AnomalySevere
		} else if z >= 1.5*sensitivity {
			severity = AnomalyModerate
		}
		out = append(out, Anomaly{
			Index:     i,
			Timestamp: p.Timestamp,
			Value:     p.Value,
			ZScore:    z,
			Severity:  severity,
		})
	}
	return out
}
