// Package history is the retention-governed owner of the four
// persisted entity kinds: execution records, evolution events,
// snapshots, and relationships. All other components read through it
// and hold only transient, derived views.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/testpulse/pulse/internal/config"
	"github.com/testpulse/pulse/internal/events"
	"github.com/testpulse/pulse/internal/metrics"
	"github.com/testpulse/pulse/internal/storage"
	"github.com/testpulse/pulse/internal/types"
)

// Store is the history store component. It layers retention windows
// and snapshot cadence on top of a storage backend. Retention is
// applied incrementally per write, bounded to the affected partition;
// the explicit Cleanup call is the only global sweep.
type Store struct {
	backend storage.Store
	cfg     *config.Config
	log     zerolog.Logger
}

// New creates a history store over the given backend.
func New(backend storage.Store, cfg *config.Config, log zerolog.Logger) *Store {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Store{
		backend: backend,
		cfg:     cfg,
		log:     log.With().Str("component", "history").Logger(),
	}
}

// StoreExecution validates and appends a record to its partition,
// applies the execution retention window to that partition, and takes
// a snapshot if one is due. The partition stays timestamp-ordered
// even under out-of-order delivery.
func (s *Store) StoreExecution(ctx context.Context, rec *types.ExecutionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	stored := rec.Clone()
	if stored.ExecutionID == "" {
		stored.ExecutionID = uuid.New().String()
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now().UTC()
	}

	if err := s.backend.AppendExecution(ctx, stored); err != nil {
		return fmt.Errorf("failed to store execution: %w", err)
	}

	key := storage.Key{TestID: stored.TestID, EntityID: stored.EntityID}
	cutoff := time.Now().AddDate(0, 0, -s.cfg.ExecutionRetentionDays)
	if _, err := s.backend.PruneExecutions(ctx, cutoff, &key); err != nil {
		return fmt.Errorf("failed to apply execution retention: %w", err)
	}

	due, err := s.snapshotDue(ctx, key, stored.Timestamp)
	if err != nil {
		return err
	}
	if due {
		if _, err := s.CreateSnapshot(ctx, stored.TestID, stored.EntityID, nil); err != nil {
			return fmt.Errorf("failed to create due snapshot: %w", err)
		}
	}
	return nil
}

// snapshotDue reports whether enough time has elapsed since the
// partition's last snapshot for the configured cadence.
func (s *Store) snapshotDue(ctx context.Context, key storage.Key, now time.Time) (bool, error) {
	snaps, err := s.backend.Snapshots(ctx, storage.SnapshotFilter{
		TestID:   key.TestID,
		EntityID: key.EntityID,
	})
	if err != nil {
		return false, fmt.Errorf("failed to check snapshot cadence: %w", err)
	}
	if len(snaps) == 0 {
		return true, nil
	}
	last := snaps[len(snaps)-1].Timestamp

	var interval time.Duration
	switch s.cfg.SnapshotCadence {
	case config.SnapshotWeekly:
		interval = 7 * 24 * time.Hour
	case config.SnapshotMonthly:
		interval = 30 * 24 * time.Hour
	default:
		interval = 24 * time.Hour
	}
	return now.Sub(last) >= interval, nil
}

// CreateSnapshot computes the rollup metrics over the partition's
// full history and appends a snapshot, then applies the snapshot
// retention window. Partitions with no executions yield an error.
func (s *Store) CreateSnapshot(ctx context.Context, testID, entityID string, metadata map[string]interface{}) (*types.Snapshot, error) {
	if testID == "" || entityID == "" {
		return nil, fmt.Errorf("snapshot requires both test id and entity id")
	}

	records, err := s.backend.Executions(ctx, storage.ExecutionFilter{TestID: testID, EntityID: entityID})
	if err != nil {
		return nil, fmt.Errorf("failed to load partition history: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no executions recorded for test %s / entity %s", testID, entityID)
	}

	snap := &types.Snapshot{
		SnapshotID: uuid.New().String(),
		Timestamp:  time.Now().UTC(),
		TestID:     testID,
		EntityID:   entityID,
		Metadata:   metadata,
	}

	latest := records[len(records)-1]
	snap.Status = latest.Status
	if latest.Coverage != nil {
		cov := *latest.Coverage
		snap.Coverage = &cov
	}

	m := &snap.Metrics
	m.TotalExecutions = len(records)
	var durationSum float64
	for _, rec := range records {
		durationSum += rec.Duration
		switch rec.Status {
		case types.StatusPass:
			m.PassCount++
			ts := rec.Timestamp
			m.LastPass = &ts
		case types.StatusFail:
			m.FailCount++
			ts := rec.Timestamp
			m.LastFail = &ts
		case types.StatusSkip:
			m.SkipCount++
		}
	}
	if counted := m.PassCount + m.FailCount; counted > 0 {
		m.SuccessRate = float64(m.PassCount) / float64(counted)
	}
	m.AvgDuration = durationSum / float64(len(records))
	m.FlakinessScore = metrics.FlakinessScore(records, s.cfg.FlakinessWindow)

	if err := s.backend.AppendSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to store snapshot: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -s.cfg.SnapshotRetentionDays)
	if _, err := s.backend.PruneSnapshots(ctx, cutoff); err != nil {
		return nil, fmt.Errorf("failed to apply snapshot retention: %w", err)
	}

	s.log.Debug().
		Str("test_id", testID).
		Str("entity_id", entityID).
		Float64("success_rate", m.SuccessRate).
		Msg("snapshot created")
	return snap, nil
}

// QueryHistory returns executions matching the query, oldest-first.
// Unknown keys yield empty results, never errors.
func (s *Store) QueryHistory(ctx context.Context, q types.HistoryQuery) ([]*types.ExecutionRecord, error) {
	return s.backend.Executions(ctx, storage.ExecutionFilter{
		TestID:   q.TestID,
		EntityID: q.EntityID,
		Status:   q.Status,
		After:    q.Start,
		Before:   q.End,
		Limit:    q.Limit,
	})
}

// ExecutionHistory returns the partition's records newest-first,
// capped at limit (0 means unlimited).
func (s *Store) ExecutionHistory(ctx context.Context, testID, entityID string, limit int) ([]*types.ExecutionRecord, error) {
	return s.backend.Executions(ctx, storage.ExecutionFilter{
		TestID:     testID,
		EntityID:   entityID,
		Limit:      limit,
		Descending: true,
	})
}

// Snapshots returns the partition's snapshots within [start, end],
// oldest-first.
func (s *Store) Snapshots(ctx context.Context, testID, entityID string, start, end time.Time) ([]*types.Snapshot, error) {
	return s.backend.Snapshots(ctx, storage.SnapshotFilter{
		TestID:   testID,
		EntityID: entityID,
		After:    start,
		Before:   end,
	})
}

// AppendEvent stores an evolution event and applies the event
// retention window.
func (s *Store) AppendEvent(ctx context.Context, ev *events.EvolutionEvent) error {
	if ev.TestID == "" || ev.EntityID == "" {
		return fmt.Errorf("evolution event requires both test id and entity id")
	}
	if !ev.Type.IsValid() {
		return fmt.Errorf("invalid evolution event type %q", ev.Type)
	}
	if err := s.backend.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	cutoff := time.Now().AddDate(0, 0, -s.cfg.EventRetentionDays)
	if _, err := s.backend.PruneEvents(ctx, cutoff); err != nil {
		return fmt.Errorf("failed to apply event retention: %w", err)
	}
	return nil
}

// Events returns evolution events matching the filter, newest-first.
func (s *Store) Events(ctx context.Context, f events.Filter) ([]*events.EvolutionEvent, error) {
	return s.backend.Events(ctx, f)
}

// PutRelationship inserts or replaces a relationship.
func (s *Store) PutRelationship(ctx context.Context, rel *types.Relationship) error {
	return s.backend.PutRelationship(ctx, rel)
}

// GetRelationship returns the relationship with the given id, or
// storage.ErrNotFound.
func (s *Store) GetRelationship(ctx context.Context, id string) (*types.Relationship, error) {
	return s.backend.GetRelationship(ctx, id)
}

// Relationships returns relationships matching the filter.
func (s *Store) Relationships(ctx context.Context, f storage.RelationshipFilter) ([]*types.Relationship, error) {
	return s.backend.Relationships(ctx, f)
}

// Keys returns all known execution partitions.
func (s *Store) Keys(ctx context.Context) ([]storage.Key, error) {
	return s.backend.Keys(ctx)
}

// Cleanup deletes executions older than retentionDays (0 uses the
// configured default) plus snapshots and events past their own
// windows. This is the O(total records) maintenance sweep; run it off
// the hot path. Returns the total count deleted. Running it twice in
// a row deletes nothing the second time.
func (s *Store) Cleanup(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays < 0 {
		return 0, fmt.Errorf("retention days cannot be negative (got %d)", retentionDays)
	}
	if retentionDays == 0 {
		retentionDays = s.cfg.ExecutionRetentionDays
	}
	now := time.Now()
	total := 0

	n, err := s.backend.PruneExecutions(ctx, now.AddDate(0, 0, -retentionDays), nil)
	if err != nil {
		return total, fmt.Errorf("failed to clean up executions: %w", err)
	}
	total += n

	n, err = s.backend.PruneSnapshots(ctx, now.AddDate(0, 0, -s.cfg.SnapshotRetentionDays))
	if err != nil {
		return total, fmt.Errorf("failed to clean up snapshots: %w", err)
	}
	total += n

	n, err = s.backend.PruneEvents(ctx, now.AddDate(0, 0, -s.cfg.EventRetentionDays))
	if err != nil {
		return total, fmt.Errorf("failed to clean up events: %w", err)
	}
	total += n

	s.log.Info().Int("deleted", total).Int("retention_days", retentionDays).Msg("cleanup completed")
	return total, nil
}

// Statistics summarizes stored volume and performs the retention
// compliance self-audit: true iff no stored execution is older than
// the retention window. This is an audit, not an enforcement.
func (s *Store) Statistics(ctx context.Context) (*Statistics, error) {
	counts, err := s.backend.Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect counts: %w", err)
	}

	stats := &Statistics{
		TotalExecutions:    counts.Executions,
		TotalEvents:        counts.Events,
		TotalSnapshots:     counts.Snapshots,
		TotalRelationships: counts.Relationships,
		OldestExecution:    counts.OldestExecution,
		NewestExecution:    counts.NewestExecution,
		ApproxSizeBytes:    counts.ApproxBytes,
		RetentionCompliant: true,
	}

	if counts.OldestExecution != nil && counts.NewestExecution != nil {
		days := counts.NewestExecution.Sub(*counts.OldestExecution).Hours() / 24
		if days < 1 {
			days = 1
		}
		stats.AvgExecutionsPerDay = float64(counts.Executions) / days

		cutoff := time.Now().AddDate(0, 0, -s.cfg.ExecutionRetentionDays)
		if counts.OldestExecution.Before(cutoff) {
			stats.RetentionCompliant = false
		}
	}
	return stats, nil
}

// Statistics is the aggregate view returned by the store self-audit.
type Statistics struct {
	TotalExecutions     int        `json:"total_executions"`
	TotalEvents         int        `json:"total_events"`
	TotalSnapshots      int        `json:"total_snapshots"`
	TotalRelationships  int        `json:"total_relationships"`
	OldestExecution     *time.Time `json:"oldest_execution,omitempty"`
	NewestExecution     *time.Time `json:"newest_execution,omitempty"`
	AvgExecutionsPerDay float64    `json:"avg_executions_per_day"`
	ApproxSizeBytes     int64      `json:"approx_size_bytes"`
	RetentionCompliant  bool       `json:"retention_compliant"`
}
