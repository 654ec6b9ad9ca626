// Package tracker is the temporal tracker: it observes test executions
// over time, emits evolution events on meaningful change, and maintains
// versioned test-to-entity relationships with validity intervals.
package tracker

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/testpulse/pulse/internal/config"
	"github.com/testpulse/pulse/internal/events"
	"github.com/testpulse/pulse/internal/history"
	"github.com/testpulse/pulse/internal/metrics"
	"github.com/testpulse/pulse/internal/storage"
	"github.com/testpulse/pulse/internal/types"
)

// Tracker observes execution streams and relationship assertions,
// turning raw deltas into evolution events. All persisted state lives
// in the history store; the tracker itself is stateless between calls.
type Tracker struct {
	store *history.Store
	cfg   *config.Config
	log   zerolog.Logger
}

// New creates a tracker over the given history store.
func New(store *history.Store, cfg *config.Config, log zerolog.Logger) *Tracker {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Tracker{
		store: store,
		cfg:   cfg,
		log:   log.With().Str("component", "tracker").Logger(),
	}
}

// TrackExecution stores the execution and analyzes it against the
// partition's immediately preceding record. Every tracked execution
// emits a test_modified event; coverage shifts, duration regressions,
// and flakiness onset emit their own events on top.
func (t *Tracker) TrackExecution(ctx context.Context, rec *types.ExecutionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	prior, err := t.store.ExecutionHistory(ctx, rec.TestID, rec.EntityID, 1)
	if err != nil {
		return fmt.Errorf("failed to load prior execution: %w", err)
	}
	var prev *types.ExecutionRecord
	if len(prior) > 0 {
		prev = prior[0]
	}

	if err := t.store.StoreExecution(ctx, rec); err != nil {
		return err
	}

	newState := map[string]interface{}{
		"status":   string(rec.Status),
		"duration": rec.Duration,
	}
	if rec.Coverage != nil {
		newState["coverage"] = rec.Coverage.Overall
	}
	var prevState map[string]interface{}
	if prev != nil {
		prevState = map[string]interface{}{
			"status":   string(prev.Status),
			"duration": prev.Duration,
		}
		if prev.Coverage != nil {
			prevState["coverage"] = prev.Coverage.Overall
		}
	}

	modified := events.New(events.EventTestModified, rec.TestID, rec.EntityID, prevState, newState)
	modified.ChangeSetID = rec.RunID
	if err := t.store.AppendEvent(ctx, modified); err != nil {
		return fmt.Errorf("failed to record execution event: %w", err)
	}

	if prev != nil {
		if err := t.analyzeCoverageChange(ctx, prev, rec); err != nil {
			return err
		}
		if err := t.analyzePerformanceChange(ctx, prev, rec); err != nil {
			return err
		}
	}
	return t.analyzeFlakiness(ctx, rec)
}

func (t *Tracker) analyzeCoverageChange(ctx context.Context, prev, cur *types.ExecutionRecord) error {
	if prev.Coverage == nil || cur.Coverage == nil {
		return nil
	}
	delta := cur.Coverage.Overall - prev.Coverage.Overall
	if delta > -t.cfg.CoverageChangeThreshold && delta < t.cfg.CoverageChangeThreshold {
		return nil
	}

	kind := events.EventCoverageIncreased
	if delta < 0 {
		kind = events.EventCoverageDecreased
	}
	ev := events.New(kind, cur.TestID, cur.EntityID,
		map[string]interface{}{"coverage": prev.Coverage.Overall},
		map[string]interface{}{"coverage": cur.Coverage.Overall, "delta": delta},
	)
	if err := t.store.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("failed to record coverage change: %w", err)
	}
	t.log.Debug().Str("test_id", cur.TestID).Float64("delta", delta).Msg("coverage change detected")
	return nil
}

func (t *Tracker) analyzePerformanceChange(ctx context.Context, prev, cur *types.ExecutionRecord) error {
	if prev.Duration <= 0 || cur.Duration <= 0 {
		return nil
	}
	ratio := cur.Duration / prev.Duration

	var kind events.EventType
	switch {
	case ratio > t.cfg.PerformanceRegressionThreshold:
		kind = events.EventPerformanceRegression
	case ratio < 1/t.cfg.PerformanceRegressionThreshold:
		kind = events.EventPerformanceImprovement
	default:
		return nil
	}

	ev := events.New(kind, cur.TestID, cur.EntityID,
		map[string]interface{}{"duration": prev.Duration},
		map[string]interface{}{"duration": cur.Duration, "ratio": ratio},
	)
	if err := t.store.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("failed to record performance change: %w", err)
	}
	return nil
}

// analyzeFlakiness emits a flakiness_detected event when the trailing
// 10-execution failure ratio crosses the threshold. Only the trailing
// window is loaded, keeping the ingest path independent of partition
// size. Partitions with fewer than 10 executions never trigger.
func (t *Tracker) analyzeFlakiness(ctx context.Context, rec *types.ExecutionRecord) error {
	records, err := t.store.ExecutionHistory(ctx, rec.TestID, rec.EntityID, 10)
	if err != nil {
		return fmt.Errorf("failed to load flakiness window: %w", err)
	}
	score := metrics.FlakinessScore(records, 10)
	if score <= t.cfg.FlakinessThreshold {
		return nil
	}

	ev := events.New(events.EventFlakinessDetected, rec.TestID, rec.EntityID, nil,
		map[string]interface{}{"flakiness_score": score, "window": 10},
	)
	if err := t.store.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("failed to record flakiness: %w", err)
	}
	t.log.Warn().Str("test_id", rec.TestID).Float64("score", score).Msg("flaky test detected")
	return nil
}

// RelationshipID derives the deterministic identifier for a
// relationship from its identity tuple. The same tuple always yields
// the same id, so re-asserting a relationship updates it in place.
func RelationshipID(testID, entityID, relType, suiteID string) string {
	h := sha1.Sum([]byte(testID + "\x00" + entityID + "\x00" + relType + "\x00" + suiteID))
	return hex.EncodeToString(h[:])[:16]
}

// TrackRelationshipChange asserts that a test exercises an entity. A
// new tuple opens a relationship with ValidFrom now; re-asserting an
// active one refreshes confidence and evidence; re-asserting a closed
// one reopens it as a fresh validity interval under the same id.
// Every assertion emits relationship_added, so the event stream
// records re-assertions as well as first sightings.
func (t *Tracker) TrackRelationshipChange(ctx context.Context, testID, entityID, relType string, confidence float64, evidence []string, metadata map[string]interface{}) (*types.Relationship, error) {
	if testID == "" || entityID == "" || relType == "" {
		return nil, fmt.Errorf("relationship requires test id, entity id, and type")
	}
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("relationship confidence must be in [0, 1] (got %g)", confidence)
	}

	suiteID := ""
	if v, ok := metadata["suite_id"].(string); ok {
		suiteID = v
	}
	id := RelationshipID(testID, entityID, relType, suiteID)

	now := time.Now().UTC()
	existing, err := t.store.GetRelationship(ctx, id)
	switch {
	case err == nil:
		rel := existing.Clone()
		if !rel.Active {
			// Reopen as a fresh validity interval.
			rel.ValidFrom = now
			rel.ValidTo = nil
			rel.Active = true
		}
		rel.Confidence = confidence
		rel.Evidence = appendUnique(rel.Evidence, evidence)
		if metadata != nil {
			rel.Metadata = metadata
		}
		if err := t.store.PutRelationship(ctx, rel); err != nil {
			return nil, fmt.Errorf("failed to update relationship: %w", err)
		}
		if err := t.emitRelationshipAdded(ctx, rel); err != nil {
			return nil, err
		}
		return rel, nil
	case err != storage.ErrNotFound:
		return nil, fmt.Errorf("failed to look up relationship: %w", err)
	}

	rel := &types.Relationship{
		RelationshipID: id,
		TestID:         testID,
		EntityID:       entityID,
		Type:           relType,
		SuiteID:        suiteID,
		ValidFrom:      now,
		Active:         true,
		Confidence:     confidence,
		Evidence:       append([]string(nil), evidence...),
		Metadata:       metadata,
	}
	if err := t.store.PutRelationship(ctx, rel); err != nil {
		return nil, fmt.Errorf("failed to create relationship: %w", err)
	}
	if err := t.emitRelationshipAdded(ctx, rel); err != nil {
		return nil, err
	}
	return rel, nil
}

func (t *Tracker) emitRelationshipAdded(ctx context.Context, rel *types.Relationship) error {
	ev := events.New(events.EventRelationshipAdded, rel.TestID, rel.EntityID, nil, map[string]interface{}{
		"relationship_id": rel.RelationshipID,
		"type":            rel.Type,
		"confidence":      rel.Confidence,
	})
	if err := t.store.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("failed to record relationship event: %w", err)
	}
	return nil
}

// CloseRelationship ends a relationship's validity interval. Closing
// an already-closed relationship is a no-op; closing an unknown id is
// an error.
func (t *Tracker) CloseRelationship(ctx context.Context, relationshipID string) error {
	rel, err := t.store.GetRelationship(ctx, relationshipID)
	if err != nil {
		if err == storage.ErrNotFound {
			return fmt.Errorf("unknown relationship %s", relationshipID)
		}
		return fmt.Errorf("failed to look up relationship: %w", err)
	}
	if !rel.Active {
		return nil
	}

	closed := rel.Clone()
	now := time.Now().UTC()
	closed.ValidTo = &now
	closed.Active = false
	if err := t.store.PutRelationship(ctx, closed); err != nil {
		return fmt.Errorf("failed to close relationship: %w", err)
	}

	ev := events.New(events.EventRelationshipRemoved, rel.TestID, rel.EntityID, nil, map[string]interface{}{
		"relationship_id": relationshipID,
		"type":            rel.Type,
	})
	if err := t.store.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("failed to record relationship removal: %w", err)
	}
	return nil
}

// ActiveRelationships returns the currently valid relationships,
// optionally filtered by test or entity.
func (t *Tracker) ActiveRelationships(ctx context.Context, testID, entityID string) ([]*types.Relationship, error) {
	return t.store.Relationships(ctx, storage.RelationshipFilter{
		TestID:     testID,
		EntityID:   entityID,
		ActiveOnly: true,
	})
}

func appendUnique(existing, extra []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, s := range existing {
		seen[s] = true
	}
	for _, s := range extra {
		if !seen[s] {
			existing = append(existing, s)
			seen[s] = true
		}
	}
	return existing
}
