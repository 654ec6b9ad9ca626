package tracker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/testpulse/pulse/internal/config"
	"github.com/testpulse/pulse/internal/events"
	"github.com/testpulse/pulse/internal/history"
	"github.com/testpulse/pulse/internal/storage/memory"
	"github.com/testpulse/pulse/internal/types"
)

func newTestTracker(t *testing.T) (*Tracker, *history.Store) {
	t.Helper()
	store := history.New(memory.New(), config.DefaultConfig(), zerolog.Nop())
	return New(store, config.DefaultConfig(), zerolog.Nop()), store
}

func execution(ts time.Time, status types.Status, duration, coverage float64) *types.ExecutionRecord {
	rec := &types.ExecutionRecord{
		TestID:    "t1",
		EntityID:  "e1",
		Timestamp: ts,
		Status:    status,
		Duration:  duration,
	}
	if coverage > 0 {
		rec.Coverage = &types.CoverageData{Overall: coverage}
	}
	return rec
}

func eventsOfType(t *testing.T, store *history.Store, kind events.EventType) []*events.EvolutionEvent {
	t.Helper()
	evs, err := store.Events(context.Background(), events.Filter{Type: kind})
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	return evs
}

func TestTrackExecutionEmitsModifiedEvent(t *testing.T) {
	ctx := context.Background()
	trk, store := newTestTracker(t)

	if err := trk.TrackExecution(ctx, execution(time.Now().UTC(), types.StatusPass, 100, 0.8)); err != nil {
		t.Fatalf("TrackExecution failed: %v", err)
	}

	evs := eventsOfType(t, store, events.EventTestModified)
	if len(evs) != 1 {
		t.Fatalf("expected 1 test_modified event, got %d", len(evs))
	}
	if evs[0].NewState["status"] != "pass" {
		t.Errorf("unexpected new state: %+v", evs[0].NewState)
	}
}

func TestCoverageDecreaseDetected(t *testing.T) {
	ctx := context.Background()
	trk, store := newTestTracker(t)
	now := time.Now().UTC()

	if err := trk.TrackExecution(ctx, execution(now, types.StatusPass, 100, 0.80)); err != nil {
		t.Fatalf("TrackExecution failed: %v", err)
	}
	if err := trk.TrackExecution(ctx, execution(now.Add(time.Minute), types.StatusPass, 100, 0.70)); err != nil {
		t.Fatalf("TrackExecution failed: %v", err)
	}

	evs := eventsOfType(t, store, events.EventCoverageDecreased)
	if len(evs) != 1 {
		t.Fatalf("expected 1 coverage_decreased event, got %d", len(evs))
	}
	delta, ok := evs[0].NewState["delta"].(float64)
	if !ok || delta > -0.05 {
		t.Errorf("unexpected delta: %v", evs[0].NewState["delta"])
	}
}

func TestCoverageChangeBelowThresholdIgnored(t *testing.T) {
	ctx := context.Background()
	trk, store := newTestTracker(t)
	now := time.Now().UTC()

	_ = trk.TrackExecution(ctx, execution(now, types.StatusPass, 100, 0.80))
	if err := trk.TrackExecution(ctx, execution(now.Add(time.Minute), types.StatusPass, 100, 0.78)); err != nil {
		t.Fatalf("TrackExecution failed: %v", err)
	}

	if evs := eventsOfType(t, store, events.EventCoverageDecreased); len(evs) != 0 {
		t.Errorf("0.02 delta should not emit an event, got %d", len(evs))
	}
}

func TestPerformanceRegressionDetected(t *testing.T) {
	ctx := context.Background()
	trk, store := newTestTracker(t)
	now := time.Now().UTC()

	_ = trk.TrackExecution(ctx, execution(now, types.StatusPass, 100, 0))
	if err := trk.TrackExecution(ctx, execution(now.Add(time.Minute), types.StatusPass, 200, 0)); err != nil {
		t.Fatalf("TrackExecution failed: %v", err)
	}

	evs := eventsOfType(t, store, events.EventPerformanceRegression)
	if len(evs) != 1 {
		t.Fatalf("expected 1 regression event, got %d", len(evs))
	}
	ratio, _ := evs[0].NewState["ratio"].(float64)
	if ratio != 2.0 {
		t.Errorf("expected ratio 2.0, got %v", ratio)
	}

	// 1.4x stays under the 1.5 threshold.
	if err := trk.TrackExecution(ctx, execution(now.Add(2*time.Minute), types.StatusPass, 280, 0)); err != nil {
		t.Fatalf("TrackExecution failed: %v", err)
	}
	if evs := eventsOfType(t, store, events.EventPerformanceRegression); len(evs) != 1 {
		t.Errorf("1.4x ratio should not emit a regression, got %d events", len(evs))
	}
}

func TestPerformanceImprovementDetected(t *testing.T) {
	ctx := context.Background()
	trk, store := newTestTracker(t)
	now := time.Now().UTC()

	_ = trk.TrackExecution(ctx, execution(now, types.StatusPass, 300, 0))
	if err := trk.TrackExecution(ctx, execution(now.Add(time.Minute), types.StatusPass, 100, 0)); err != nil {
		t.Fatalf("TrackExecution failed: %v", err)
	}

	if evs := eventsOfType(t, store, events.EventPerformanceImprovement); len(evs) != 1 {
		t.Errorf("expected 1 improvement event, got %d", len(evs))
	}
}

func TestFlakinessOnset(t *testing.T) {
	ctx := context.Background()
	trk, store := newTestTracker(t)
	now := time.Now().UTC()

	// Nine passes: below the minimum sample, no event regardless of mix.
	for i := 0; i < 9; i++ {
		if err := trk.TrackExecution(ctx, execution(now.Add(time.Duration(i)*time.Minute), types.StatusPass, 100, 0)); err != nil {
			t.Fatalf("TrackExecution failed: %v", err)
		}
	}
	if evs := eventsOfType(t, store, events.EventFlakinessDetected); len(evs) != 0 {
		t.Fatalf("no flakiness expected before 10 executions, got %d", len(evs))
	}

	// Two failures in the trailing 10 crosses the 0.1 threshold.
	for i := 9; i < 11; i++ {
		if err := trk.TrackExecution(ctx, execution(now.Add(time.Duration(i)*time.Minute), types.StatusFail, 100, 0)); err != nil {
			t.Fatalf("TrackExecution failed: %v", err)
		}
	}
	if evs := eventsOfType(t, store, events.EventFlakinessDetected); len(evs) == 0 {
		t.Errorf("expected flakiness_detected after failures in trailing window")
	}
}

func TestFlakinessWindowBounded(t *testing.T) {
	ctx := context.Background()
	trk, store := newTestTracker(t)
	now := time.Now().UTC()

	// Old failures seeded straight into the store, outside the trailing
	// window by the time the tracked passes land.
	for i := 0; i < 10; i++ {
		rec := execution(now.Add(-time.Duration(20-i)*time.Hour), types.StatusFail, 100, 0)
		if err := store.StoreExecution(ctx, rec); err != nil {
			t.Fatalf("StoreExecution failed: %v", err)
		}
	}
	for i := 0; i < 10; i++ {
		if err := trk.TrackExecution(ctx, execution(now.Add(time.Duration(i)*time.Minute), types.StatusPass, 100, 0)); err != nil {
			t.Fatalf("TrackExecution failed: %v", err)
		}
	}
	before := len(eventsOfType(t, store, events.EventFlakinessDetected))

	// With the trailing 10 all passing, another pass must not emit,
	// regardless of the failures deeper in the partition.
	if err := trk.TrackExecution(ctx, execution(now.Add(time.Hour), types.StatusPass, 100, 0)); err != nil {
		t.Fatalf("TrackExecution failed: %v", err)
	}
	after := len(eventsOfType(t, store, events.EventFlakinessDetected))
	if after != before {
		t.Errorf("all-pass trailing window should not emit flakiness, got %d new event(s)", after-before)
	}
}

func TestRelationshipLifecycle(t *testing.T) {
	ctx := context.Background()
	trk, store := newTestTracker(t)

	rel, err := trk.TrackRelationshipChange(ctx, "t1", "e1", "covers", 0.9, []string{"run-1"}, nil)
	if err != nil {
		t.Fatalf("TrackRelationshipChange failed: %v", err)
	}
	if !rel.Active || rel.ValidTo != nil {
		t.Errorf("new relationship should be active with open interval: %+v", rel)
	}
	wantID := RelationshipID("t1", "e1", "covers", "")
	if rel.RelationshipID != wantID {
		t.Errorf("expected deterministic id %s, got %s", wantID, rel.RelationshipID)
	}

	// Re-asserting refreshes, not duplicates.
	again, err := trk.TrackRelationshipChange(ctx, "t1", "e1", "covers", 0.95, []string{"run-2"}, nil)
	if err != nil {
		t.Fatalf("re-assert failed: %v", err)
	}
	if again.RelationshipID != rel.RelationshipID {
		t.Errorf("re-assert created a new relationship")
	}
	if again.Confidence != 0.95 || len(again.Evidence) != 2 {
		t.Errorf("re-assert did not refresh: %+v", again)
	}
	// Both the creation and the refresh show up in the event stream.
	if evs := eventsOfType(t, store, events.EventRelationshipAdded); len(evs) != 2 {
		t.Errorf("expected relationship_added on create and refresh, got %d event(s)", len(evs))
	}

	active, err := trk.ActiveRelationships(ctx, "t1", "")
	if err != nil {
		t.Fatalf("ActiveRelationships failed: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected exactly 1 active relationship, got %d", len(active))
	}

	// Close stamps the interval end.
	if err := trk.CloseRelationship(ctx, rel.RelationshipID); err != nil {
		t.Fatalf("CloseRelationship failed: %v", err)
	}
	closed, err := store.GetRelationship(ctx, rel.RelationshipID)
	if err != nil {
		t.Fatalf("GetRelationship failed: %v", err)
	}
	if closed.Active || closed.ValidTo == nil {
		t.Errorf("closed relationship should be inactive with ValidTo set: %+v", closed)
	}

	// Closing twice is a no-op; closing an unknown id errors.
	if err := trk.CloseRelationship(ctx, rel.RelationshipID); err != nil {
		t.Errorf("double close should be a no-op: %v", err)
	}
	if err := trk.CloseRelationship(ctx, "nope"); err == nil {
		t.Errorf("expected error closing unknown relationship")
	}

	// Re-asserting after close reopens a fresh interval under the same id.
	reopened, err := trk.TrackRelationshipChange(ctx, "t1", "e1", "covers", 0.8, nil, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if reopened.RelationshipID != rel.RelationshipID {
		t.Errorf("reopen should keep the deterministic id")
	}
	if !reopened.Active || reopened.ValidTo != nil {
		t.Errorf("reopened relationship should be active with open interval: %+v", reopened)
	}
	if !reopened.ValidFrom.After(rel.ValidFrom.Add(-time.Second)) {
		t.Errorf("reopened interval should start fresh")
	}

	added := eventsOfType(t, store, events.EventRelationshipAdded)
	removed := eventsOfType(t, store, events.EventRelationshipRemoved)
	if len(added) != 3 || len(removed) != 1 {
		t.Errorf("expected 3 added (create, refresh, reopen) and 1 removed event, got %d/%d", len(added), len(removed))
	}
}

func TestTrackRelationshipValidation(t *testing.T) {
	ctx := context.Background()
	trk, _ := newTestTracker(t)

	if _, err := trk.TrackRelationshipChange(ctx, "", "e1", "covers", 0.5, nil, nil); err == nil {
		t.Errorf("expected error for missing test id")
	}
	if _, err := trk.TrackRelationshipChange(ctx, "t1", "e1", "covers", 1.5, nil, nil); err == nil {
		t.Errorf("expected error for out-of-range confidence")
	}
}

func TestAnalyzeImpact(t *testing.T) {
	ctx := context.Background()
	trk, _ := newTestTracker(t)
	now := time.Now().UTC()

	for i := 0; i < 20; i++ {
		status := types.StatusPass
		if i%4 == 0 {
			status = types.StatusFail
		}
		rec := execution(now.Add(-time.Duration(i)*time.Hour), status, 100, 0.9)
		if err := trk.TrackExecution(ctx, rec); err != nil {
			t.Fatalf("TrackExecution failed: %v", err)
		}
	}
	if _, err := trk.TrackRelationshipChange(ctx, "t1", "e1", "covers", 0.9, nil, nil); err != nil {
		t.Fatalf("TrackRelationshipChange failed: %v", err)
	}

	analysis, err := trk.AnalyzeImpact(ctx, "e1")
	if err != nil {
		t.Fatalf("AnalyzeImpact failed: %v", err)
	}
	if analysis.ImpactScore <= 0 || analysis.ImpactScore > 1 {
		t.Errorf("impact score out of range: %v", analysis.ImpactScore)
	}
	if len(analysis.AffectedTests) != 1 || analysis.AffectedTests[0] != "t1" {
		t.Errorf("unexpected affected tests: %v", analysis.AffectedTests)
	}
	// 5 failures in the last 7 days triggers the recommendation.
	if len(analysis.Recommendations) == 0 {
		t.Errorf("expected a stabilization recommendation")
	}
}

func TestAnalyzeImpactFrequencyWindow(t *testing.T) {
	ctx := context.Background()
	trk, store := newTestTracker(t)
	now := time.Now().UTC()

	// Failures three weeks back count toward the 30-day frequency
	// factor but not toward the 7-day stabilization recommendation.
	for i := 0; i < 10; i++ {
		rec := execution(now.AddDate(0, 0, -20).Add(time.Duration(i)*time.Minute), types.StatusFail, 100, 0.9)
		if err := store.StoreExecution(ctx, rec); err != nil {
			t.Fatalf("StoreExecution failed: %v", err)
		}
	}
	if _, err := trk.TrackRelationshipChange(ctx, "t1", "e1", "covers", 0.9, nil, nil); err != nil {
		t.Fatalf("TrackRelationshipChange failed: %v", err)
	}

	analysis, err := trk.AnalyzeImpact(ctx, "e1")
	if err != nil {
		t.Fatalf("AnalyzeImpact failed: %v", err)
	}
	if analysis.Factors["execution_frequency"] <= 0 {
		t.Errorf("20-day-old executions should count toward frequency: %v", analysis.Factors)
	}
	for _, rec := range analysis.Recommendations {
		if strings.Contains(rec, "stabilize") {
			t.Errorf("failures outside the 7-day window should not recommend stabilization: %q", rec)
		}
	}
}

func TestAnalyzeImpactNoRelationships(t *testing.T) {
	ctx := context.Background()
	trk, _ := newTestTracker(t)

	analysis, err := trk.AnalyzeImpact(ctx, "unknown")
	if err != nil {
		t.Fatalf("AnalyzeImpact failed: %v", err)
	}
	if analysis.RiskLevel != RiskLow || analysis.ImpactScore != 0 {
		t.Errorf("entity with no relationships should be low risk: %+v", analysis)
	}
}

func TestDetectObsolescence(t *testing.T) {
	ctx := context.Background()
	trk, store := newTestTracker(t)
	now := time.Now().UTC()

	// Idle test with tiny coverage and a perfect pass record: all three
	// signals fire (0.4 + 0.3 + 0.2).
	for i := 0; i < 12; i++ {
		rec := execution(now.AddDate(0, 0, -40).Add(time.Duration(i)*time.Minute), types.StatusPass, 100, 0)
		rec.Coverage = &types.CoverageData{Overall: 0.05}
		if err := store.StoreExecution(ctx, rec); err != nil {
			t.Fatalf("StoreExecution failed: %v", err)
		}
	}
	if _, err := trk.TrackRelationshipChange(ctx, "t1", "e1", "covers", 0.9, nil, nil); err != nil {
		t.Fatalf("TrackRelationshipChange failed: %v", err)
	}

	// Healthy, recently-run test of the same entity should not be flagged.
	healthy := execution(now, types.StatusPass, 100, 0.9)
	healthy.TestID = "t2"
	if err := store.StoreExecution(ctx, healthy); err != nil {
		t.Fatalf("StoreExecution failed: %v", err)
	}
	if _, err := trk.TrackRelationshipChange(ctx, "t2", "e1", "covers", 0.9, nil, nil); err != nil {
		t.Fatalf("TrackRelationshipChange failed: %v", err)
	}

	// A stale partition with no active relationship to the entity is
	// outside the scan.
	orphan := execution(now.AddDate(0, 0, -60), types.StatusPass, 100, 0)
	orphan.TestID = "t3"
	if err := store.StoreExecution(ctx, orphan); err != nil {
		t.Fatalf("StoreExecution failed: %v", err)
	}

	candidates, err := trk.DetectObsolescence(ctx, "e1")
	if err != nil {
		t.Fatalf("DetectObsolescence failed: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}
	cand := candidates[0]
	if cand.TestID != "t1" {
		t.Errorf("wrong candidate: %s", cand.TestID)
	}
	if cand.Score < 0.89 || cand.Score > 0.91 {
		t.Errorf("expected score 0.9, got %v", cand.Score)
	}
	if cand.Action != ActionRemove {
		t.Errorf("score 0.9 should recommend removal, got %s", cand.Action)
	}
	if len(cand.Signals) != 3 {
		t.Errorf("expected 3 signals, got %v", cand.Signals)
	}

	if _, err := trk.DetectObsolescence(ctx, ""); err == nil {
		t.Errorf("expected error for missing entity id")
	}
}
