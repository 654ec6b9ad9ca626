package tracker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/testpulse/pulse/internal/types"
)

// RiskLevel classifies an impact score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ImpactAnalysis estimates how risky a change to a code entity is,
// based on the tests currently exercising it.
type ImpactAnalysis struct {
	// EntityID is the analyzed entity
	EntityID string `json:"entity_id"`
	// ImpactScore is the weighted composite in [0, 1]
	ImpactScore float64 `json:"impact_score"`
	// RiskLevel classifies the score
	RiskLevel RiskLevel `json:"risk_level"`
	// AffectedTests lists the tests with active relationships to the entity
	AffectedTests []string `json:"affected_tests"`
	// Factors breaks the score into its weighted components
	Factors map[string]float64 `json:"factors"`
	// Recommendations are human-readable follow-ups
	Recommendations []string `json:"recommendations,omitempty"`
}

// Impact score weights. Factors without data are dropped and the
// remaining weights renormalized, so a sparse entity still gets a
// score on the evidence available.
const (
	weightRelationships = 0.3
	weightConfidence    = 0.2
	weightFrequency     = 0.3
	weightCoverage      = 0.2
)

// AnalyzeImpact scores the blast radius of changing an entity. The
// score weighs how many tests touch it, how confident those
// relationships are, how often the tests run, and how much coverage
// they bring.
func (t *Tracker) AnalyzeImpact(ctx context.Context, entityID string) (*ImpactAnalysis, error) {
	if entityID == "" {
		return nil, fmt.Errorf("impact analysis requires an entity id")
	}

	rels, err := t.ActiveRelationships(ctx, "", entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load relationships: %w", err)
	}

	analysis := &ImpactAnalysis{
		EntityID: entityID,
		Factors:  make(map[string]float64),
	}
	if len(rels) == 0 {
		analysis.RiskLevel = RiskLow
		analysis.Recommendations = append(analysis.Recommendations,
			"no active test relationships: changes to this entity are unverified")
		return analysis, nil
	}

	testSet := make(map[string]bool)
	confidenceSum := 0.0
	lowConfidence := 0
	for _, rel := range rels {
		testSet[rel.TestID] = true
		confidenceSum += rel.Confidence
		if rel.Confidence < 0.5 {
			lowConfidence++
		}
	}
	for id := range testSet {
		analysis.AffectedTests = append(analysis.AffectedTests, id)
	}
	sort.Strings(analysis.AffectedTests)

	// Relationship count saturates at 10.
	relFactor := float64(len(rels)) / 10
	if relFactor > 1 {
		relFactor = 1
	}
	analysis.Factors["relationship_count"] = relFactor
	analysis.Factors["avg_confidence"] = confidenceSum / float64(len(rels))

	// Frequency and coverage factors look at the trailing 30 days; the
	// failure recommendation below uses a tighter 7-day window.
	now := time.Now()
	records, err := t.store.QueryHistory(ctx, types.HistoryQuery{
		EntityID: entityID,
		Start:    now.AddDate(0, 0, -30),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load recent executions: %w", err)
	}

	recentFailures := 0
	weekAgo := now.AddDate(0, 0, -7)
	if len(records) > 0 {
		// Execution frequency saturates at 200 runs per 30 days.
		freqFactor := float64(len(records)) / 200
		if freqFactor > 1 {
			freqFactor = 1
		}
		analysis.Factors["execution_frequency"] = freqFactor

		coverageSum := 0.0
		coverageCount := 0
		for _, rec := range records {
			if rec.Status == types.StatusFail && rec.Timestamp.After(weekAgo) {
				recentFailures++
			}
			if rec.Coverage != nil {
				coverageSum += rec.Coverage.Overall
				coverageCount++
			}
		}
		if coverageCount > 0 {
			analysis.Factors["avg_coverage"] = coverageSum / float64(coverageCount)
		}
	}

	weights := map[string]float64{
		"relationship_count":  weightRelationships,
		"avg_confidence":      weightConfidence,
		"execution_frequency": weightFrequency,
		"avg_coverage":        weightCoverage,
	}
	weightTotal := 0.0
	weighted := 0.0
	for name, value := range analysis.Factors {
		weighted += weights[name] * value
		weightTotal += weights[name]
	}
	if weightTotal > 0 {
		analysis.ImpactScore = weighted / weightTotal
	}

	switch {
	case analysis.ImpactScore < 0.3:
		analysis.RiskLevel = RiskLow
	case analysis.ImpactScore < 0.6:
		analysis.RiskLevel = RiskMedium
	case analysis.ImpactScore < 0.8:
		analysis.RiskLevel = RiskHigh
	default:
		analysis.RiskLevel = RiskCritical
	}

	if lowConfidence > 0 {
		analysis.Recommendations = append(analysis.Recommendations,
			fmt.Sprintf("%d relationship(s) have confidence below 0.5: verify the tests still exercise this entity", lowConfidence))
	}
	if recentFailures > 3 {
		analysis.Recommendations = append(analysis.Recommendations,
			fmt.Sprintf("%d failures in the last 7 days: stabilize before making further changes", recentFailures))
	}
	return analysis, nil
}

// ObsolescenceAction is the recommended follow-up for a candidate.
type ObsolescenceAction string

const (
	// ActionUpdate suggests refreshing the test (score below 0.5)
	ActionUpdate ObsolescenceAction = "update"
	// ActionInvestigate suggests a manual look (score below 0.7)
	ActionInvestigate ObsolescenceAction = "investigate"
	// ActionRemove suggests deleting the test (score 0.7 or above)
	ActionRemove ObsolescenceAction = "remove"
)

// ObsolescenceCandidate is a test whose signals suggest it may no
// longer pull its weight.
type ObsolescenceCandidate struct {
	// TestID is the candidate test
	TestID string `json:"test_id"`
	// EntityID is the partition the signals were computed over
	EntityID string `json:"entity_id"`
	// Score is the summed signal weight in [0, 1]
	Score float64 `json:"score"`
	// Signals lists the reasons the test was flagged
	Signals []string `json:"signals"`
	// Action is the recommended follow-up
	Action ObsolescenceAction `json:"action"`
}

// DetectObsolescence inspects the tests with an active relationship to
// the entity for obsolescence signals: long-idle, near-zero coverage,
// or never-failing over a meaningful sample. Only candidates scoring
// at least 0.3 are reported, strongest first.
func (t *Tracker) DetectObsolescence(ctx context.Context, entityID string) ([]ObsolescenceCandidate, error) {
	if entityID == "" {
		return nil, fmt.Errorf("obsolescence detection requires an entity id")
	}
	rels, err := t.ActiveRelationships(ctx, "", entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load relationships: %w", err)
	}

	now := time.Now()
	seen := make(map[string]bool)
	var out []ObsolescenceCandidate
	for _, rel := range rels {
		if seen[rel.TestID] {
			continue
		}
		seen[rel.TestID] = true

		records, err := t.store.QueryHistory(ctx, types.HistoryQuery{
			TestID:   rel.TestID,
			EntityID: entityID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load partition %s/%s: %w", rel.TestID, entityID, err)
		}
		if len(records) == 0 {
			continue
		}

		cand := ObsolescenceCandidate{TestID: rel.TestID, EntityID: entityID}

		last := records[len(records)-1].Timestamp
		if now.Sub(last) > 30*24*time.Hour {
			cand.Score += 0.4
			cand.Signals = append(cand.Signals, "no executions in the last 30 days")
		}

		coverageSum := 0.0
		coverageCount := 0
		passes := 0
		counted := 0
		for _, rec := range records {
			if rec.Coverage != nil {
				coverageSum += rec.Coverage.Overall
				coverageCount++
			}
			switch rec.Status {
			case types.StatusPass:
				passes++
				counted++
			case types.StatusFail:
				counted++
			}
		}
		if coverageCount > 0 && coverageSum/float64(coverageCount) < 0.1 {
			cand.Score += 0.3
			cand.Signals = append(cand.Signals, "average coverage below 10%")
		}
		if counted > 10 && float64(passes)/float64(counted) > 0.95 {
			cand.Score += 0.2
			cand.Signals = append(cand.Signals, "passes more than 95% of the time: may no longer discriminate")
		}

		if cand.Score < 0.3 {
			continue
		}
		switch {
		case cand.Score < 0.5:
			cand.Action = ActionUpdate
		case cand.Score < 0.7:
			cand.Action = ActionInvestigate
		default:
			cand.Action = ActionRemove
		}
		out = append(out, cand)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].TestID < out[j].TestID
	})
	return out, nil
}
