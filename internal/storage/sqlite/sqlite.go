// Package sqlite implements the storage contract on an embedded
// SQLite database. Structured fields (coverage, states, metadata)
// are stored as JSON columns.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/testpulse/pulse/internal/events"
	"github.com/testpulse/pulse/internal/storage"
	"github.com/testpulse/pulse/internal/types"
)

// Store is the SQLite-backed storage implementation.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path and initializes the
// schema. The special path ":memory:" creates an in-memory database,
// useful for tests.
func New(path string) (*Store, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// WAL mode for better concurrency between the ingestion writer
	// and background readers.
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// AppendExecution inserts a record. Partition order is maintained by
// the timestamp index rather than physical placement.
func (s *Store) AppendExecution(ctx context.Context, rec *types.ExecutionRecord) error {
	coverage, err := marshalNullable(rec.Coverage)
	if err != nil {
		return fmt.Errorf("failed to marshal coverage: %w", err)
	}
	environment, err := marshalNullable(rec.Environment)
	if err != nil {
		return fmt.Errorf("failed to marshal environment: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (
			execution_id, suite_id, run_id, test_id, entity_id,
			timestamp, status, duration, coverage, environment
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ExecutionID, rec.SuiteID, rec.RunID, rec.TestID, rec.EntityID,
		rec.Timestamp, rec.Status, rec.Duration, coverage, environment,
	)
	if err != nil {
		return fmt.Errorf("failed to store execution (test=%s, entity=%s): %w", rec.TestID, rec.EntityID, err)
	}
	return nil
}

// Executions returns records matching the filter.
func (s *Store) Executions(ctx context.Context, f storage.ExecutionFilter) ([]*types.ExecutionRecord, error) {
	query := `
		SELECT execution_id, suite_id, run_id, test_id, entity_id,
		       timestamp, status, duration, coverage, environment
		FROM executions
		WHERE 1=1
	`
	args := []interface{}{}

	if f.TestID != "" {
		query += " AND test_id = ?"
		args = append(args, f.TestID)
	}
	if f.EntityID != "" {
		query += " AND entity_id = ?"
		args = append(args, f.EntityID)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	if !f.After.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, f.After)
	}
	if !f.Before.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, f.Before)
	}

	if f.Descending {
		query += " ORDER BY timestamp DESC, row_id DESC"
	} else {
		query += " ORDER BY timestamp ASC, row_id ASC"
	}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.ExecutionRecord
	for rows.Next() {
		var rec types.ExecutionRecord
		var coverage, environment sql.NullString
		if err := rows.Scan(
			&rec.ExecutionID, &rec.SuiteID, &rec.RunID, &rec.TestID, &rec.EntityID,
			&rec.Timestamp, &rec.Status, &rec.Duration, &coverage, &environment,
		); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		if coverage.Valid {
			if err := json.Unmarshal([]byte(coverage.String), &rec.Coverage); err != nil {
				return nil, fmt.Errorf("failed to decode coverage for execution %s: %w", rec.ExecutionID, err)
			}
		}
		if environment.Valid {
			if err := json.Unmarshal([]byte(environment.String), &rec.Environment); err != nil {
				return nil, fmt.Errorf("failed to decode environment for execution %s: %w", rec.ExecutionID, err)
			}
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// PruneExecutions deletes executions older than cutoff, bounded to
// one partition when key is non-nil.
func (s *Store) PruneExecutions(ctx context.Context, cutoff time.Time, key *storage.Key) (int, error) {
	query := "DELETE FROM executions WHERE timestamp < ?"
	args := []interface{}{cutoff}
	if key != nil {
		query += " AND test_id = ? AND entity_id = ?"
		args = append(args, key.TestID, key.EntityID)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to prune executions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned executions: %w", err)
	}
	return int(n), nil
}

// AppendEvent inserts an evolution event.
func (s *Store) AppendEvent(ctx context.Context, ev *events.EvolutionEvent) error {
	prev, err := marshalNullable(ev.PreviousState)
	if err != nil {
		return fmt.Errorf("failed to marshal previous state: %w", err)
	}
	next, err := marshalNullable(ev.NewState)
	if err != nil {
		return fmt.Errorf("failed to marshal new state: %w", err)
	}
	metadata, err := marshalNullable(ev.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO evolution_events (
			event_id, test_id, entity_id, timestamp, type,
			previous_state, new_state, change_set_id, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.EventID, ev.TestID, ev.EntityID, ev.Timestamp, ev.Type,
		prev, next, ev.ChangeSetID, metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to store event (type=%s, test=%s): %w", ev.Type, ev.TestID, err)
	}
	return nil
}

// Events returns events matching the filter, newest-first.
func (s *Store) Events(ctx context.Context, f events.Filter) ([]*events.EvolutionEvent, error) {
	query := `
		SELECT event_id, test_id, entity_id, timestamp, type,
		       previous_state, new_state, change_set_id, metadata
		FROM evolution_events
		WHERE 1=1
	`
	args := []interface{}{}

	if f.TestID != "" {
		query += " AND test_id = ?"
		args = append(args, f.TestID)
	}
	if f.EntityID != "" {
		query += " AND entity_id = ?"
		args = append(args, f.EntityID)
	}
	if f.Type != "" {
		query += " AND type = ?"
		args = append(args, f.Type)
	}
	if !f.After.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, f.After)
	}
	if !f.Before.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, f.Before)
	}
	query += " ORDER BY timestamp DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*events.EvolutionEvent
	for rows.Next() {
		var ev events.EvolutionEvent
		var prev, next, metadata sql.NullString
		if err := rows.Scan(
			&ev.EventID, &ev.TestID, &ev.EntityID, &ev.Timestamp, &ev.Type,
			&prev, &next, &ev.ChangeSetID, &metadata,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := unmarshalNullable(prev, &ev.PreviousState); err != nil {
			return nil, fmt.Errorf("failed to decode previous state for event %s: %w", ev.EventID, err)
		}
		if err := unmarshalNullable(next, &ev.NewState); err != nil {
			return nil, fmt.Errorf("failed to decode new state for event %s: %w", ev.EventID, err)
		}
		if err := unmarshalNullable(metadata, &ev.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for event %s: %w", ev.EventID, err)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// PruneEvents deletes events older than cutoff.
func (s *Store) PruneEvents(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM evolution_events WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned events: %w", err)
	}
	return int(n), nil
}

// AppendSnapshot inserts a snapshot.
func (s *Store) AppendSnapshot(ctx context.Context, snap *types.Snapshot) error {
	coverage, err := marshalNullable(snap.Coverage)
	if err != nil {
		return fmt.Errorf("failed to marshal coverage: %w", err)
	}
	metrics, err := json.Marshal(snap.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	metadata, err := marshalNullable(snap.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (
			snapshot_id, timestamp, test_id, entity_id, status,
			coverage, metrics, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		snap.SnapshotID, snap.Timestamp, snap.TestID, snap.EntityID, snap.Status,
		coverage, string(metrics), metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to store snapshot (test=%s, entity=%s): %w", snap.TestID, snap.EntityID, err)
	}
	return nil
}

// Snapshots returns snapshots matching the filter, oldest-first.
func (s *Store) Snapshots(ctx context.Context, f storage.SnapshotFilter) ([]*types.Snapshot, error) {
	query := `
		SELECT snapshot_id, timestamp, test_id, entity_id, status,
		       coverage, metrics, metadata
		FROM snapshots
		WHERE 1=1
	`
	args := []interface{}{}

	if f.TestID != "" {
		query += " AND test_id = ?"
		args = append(args, f.TestID)
	}
	if f.EntityID != "" {
		query += " AND entity_id = ?"
		args = append(args, f.EntityID)
	}
	if !f.After.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, f.After)
	}
	if !f.Before.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, f.Before)
	}
	query += " ORDER BY timestamp ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Snapshot
	for rows.Next() {
		var snap types.Snapshot
		var coverage, metadata sql.NullString
		var metrics string
		if err := rows.Scan(
			&snap.SnapshotID, &snap.Timestamp, &snap.TestID, &snap.EntityID, &snap.Status,
			&coverage, &metrics, &metadata,
		); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if coverage.Valid {
			if err := json.Unmarshal([]byte(coverage.String), &snap.Coverage); err != nil {
				return nil, fmt.Errorf("failed to decode coverage for snapshot %s: %w", snap.SnapshotID, err)
			}
		}
		if err := json.Unmarshal([]byte(metrics), &snap.Metrics); err != nil {
			return nil, fmt.Errorf("failed to decode metrics for snapshot %s: %w", snap.SnapshotID, err)
		}
		if err := unmarshalNullable(metadata, &snap.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for snapshot %s: %w", snap.SnapshotID, err)
		}
		out = append(out, &snap)
	}
	return out, rows.Err()
}

// PruneSnapshots deletes snapshots older than cutoff.
func (s *Store) PruneSnapshots(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM snapshots WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned snapshots: %w", err)
	}
	return int(n), nil
}

// PutRelationship inserts or replaces a relationship by id.
func (s *Store) PutRelationship(ctx context.Context, rel *types.Relationship) error {
	evidence, err := marshalNullable(rel.Evidence)
	if err != nil {
		return fmt.Errorf("failed to marshal evidence: %w", err)
	}
	metadata, err := marshalNullable(rel.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	var validTo interface{}
	if rel.ValidTo != nil {
		validTo = *rel.ValidTo
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO relationships (
			relationship_id, test_id, entity_id, type, suite_id,
			valid_from, valid_to, active, confidence, evidence, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(relationship_id) DO UPDATE SET
			valid_from = excluded.valid_from,
			valid_to   = excluded.valid_to,
			active     = excluded.active,
			confidence = excluded.confidence,
			evidence   = excluded.evidence,
			metadata   = excluded.metadata
	`,
		rel.RelationshipID, rel.TestID, rel.EntityID, rel.Type, rel.SuiteID,
		rel.ValidFrom, validTo, rel.Active, rel.Confidence, evidence, metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to store relationship %s: %w", rel.RelationshipID, err)
	}
	return nil
}

// GetRelationship returns the relationship with the given id.
func (s *Store) GetRelationship(ctx context.Context, id string) (*types.Relationship, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT relationship_id, test_id, entity_id, type, suite_id,
		       valid_from, valid_to, active, confidence, evidence, metadata
		FROM relationships
		WHERE relationship_id = ?
	`, id)
	rel, err := scanRelationship(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get relationship %s: %w", id, err)
	}
	return rel, nil
}

// Relationships returns relationships matching the filter.
func (s *Store) Relationships(ctx context.Context, f storage.RelationshipFilter) ([]*types.Relationship, error) {
	query := `
		SELECT relationship_id, test_id, entity_id, type, suite_id,
		       valid_from, valid_to, active, confidence, evidence, metadata
		FROM relationships
		WHERE 1=1
	`
	args := []interface{}{}

	if f.TestID != "" {
		query += " AND test_id = ?"
		args = append(args, f.TestID)
	}
	if f.EntityID != "" {
		query += " AND entity_id = ?"
		args = append(args, f.EntityID)
	}
	if f.ActiveOnly {
		query += " AND active = 1"
	}
	query += " ORDER BY relationship_id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

// Keys returns all known execution partitions.
func (s *Store) Keys(ctx context.Context) ([]storage.Key, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT test_id, entity_id FROM executions
		ORDER BY test_id, entity_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query partitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []storage.Key
	for rows.Next() {
		var key storage.Key
		if err := rows.Scan(&key.TestID, &key.EntityID); err != nil {
			return nil, fmt.Errorf("failed to scan partition key: %w", err)
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

// Counts returns aggregate stored volume.
func (s *Store) Counts(ctx context.Context) (*storage.Counts, error) {
	c := &storage.Counts{}
	var oldest, newest sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(timestamp), MAX(timestamp) FROM executions
	`).Scan(&c.Executions, &oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}
	if oldest.Valid {
		c.OldestExecution = &oldest.Time
	}
	if newest.Valid {
		c.NewestExecution = &newest.Time
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM evolution_events").Scan(&c.Events); err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM snapshots").Scan(&c.Snapshots); err != nil {
		return nil, fmt.Errorf("failed to count snapshots: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM relationships").Scan(&c.Relationships); err != nil {
		return nil, fmt.Errorf("failed to count relationships: %w", err)
	}

	// page_count * page_size gives the on-disk footprint.
	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err == nil {
			c.ApproxBytes = pageCount * pageSize
		}
	}
	return c, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// scanRelationship scans one relationship row via the given scan func.
func scanRelationship(scan func(dest ...interface{}) error) (*types.Relationship, error) {
	var rel types.Relationship
	var validTo sql.NullTime
	var evidence, metadata sql.NullString
	if err := scan(
		&rel.RelationshipID, &rel.TestID, &rel.EntityID, &rel.Type, &rel.SuiteID,
		&rel.ValidFrom, &validTo, &rel.Active, &rel.Confidence, &evidence, &metadata,
	); err != nil {
		return nil, err
	}
	if validTo.Valid {
		rel.ValidTo = &validTo.Time
	}
	if err := unmarshalNullable(evidence, &rel.Evidence); err != nil {
		return nil, fmt.Errorf("failed to decode evidence: %w", err)
	}
	if err := unmarshalNullable(metadata, &rel.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return &rel, nil
}

// marshalNullable JSON-encodes v, returning nil for nil values so the
// column stores NULL instead of the string "null".
func marshalNullable(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case *types.CoverageData:
		if val == nil {
			return nil, nil
		}
	case map[string]string:
		if val == nil {
			return nil, nil
		}
	case map[string]interface{}:
		if val == nil {
			return nil, nil
		}
	case []string:
		if val == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// unmarshalNullable decodes a nullable JSON column into dest.
func unmarshalNullable(col sql.NullString, dest interface{}) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dest)
}
