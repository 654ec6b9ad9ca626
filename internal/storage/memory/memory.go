// Package memory implements the storage contract with in-process
// partitioned maps: a composite (testId, entityId) key mapping to a
// timestamp-sorted row list with stable numeric row ids. This is the
// default backend for the ingestion hot path; appends and window
// scans touch only the affected partition.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/testpulse/pulse/internal/events"
	"github.com/testpulse/pulse/internal/storage"
	"github.com/testpulse/pulse/internal/types"
)

// execRow pairs a record with its stable row id. Row ids break
// timestamp ties so partition order is deterministic.
type execRow struct {
	id  int64
	rec *types.ExecutionRecord
}

// Store is the in-memory backend. A sync.RWMutex guards the maps:
// ingestion is single-writer, but scheduled badge sampling and alert
// evaluation read concurrently in the background.
type Store struct {
	mu      sync.RWMutex
	nextRow int64

	executions    map[storage.Key][]execRow
	evolution     map[storage.Key][]*events.EvolutionEvent
	snapshots     map[storage.Key][]*types.Snapshot
	relationships map[string]*types.Relationship
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		executions:    make(map[storage.Key][]execRow),
		evolution:     make(map[storage.Key][]*events.EvolutionEvent),
		snapshots:     make(map[storage.Key][]*types.Snapshot),
		relationships: make(map[string]*types.Relationship),
	}
}

// AppendExecution adds a record to its partition, inserting at the
// timestamp-sorted position. Out-of-order delivery is tolerated;
// equal timestamps keep arrival order via the row id.
func (s *Store) AppendExecution(ctx context.Context, rec *types.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storage.Key{TestID: rec.TestID, EntityID: rec.EntityID}
	s.nextRow++
	row := execRow{id: s.nextRow, rec: rec.Clone()}

	rows := s.executions[key]
	// Common case: append at the end. Otherwise find the insertion
	// point so the partition stays sorted.
	idx := len(rows)
	for idx > 0 && rows[idx-1].rec.Timestamp.After(row.rec.Timestamp) {
		idx--
	}
	rows = append(rows, execRow{})
	copy(rows[idx+1:], rows[idx:])
	rows[idx] = row
	s.executions[key] = rows
	return nil
}

// Executions returns records matching the filter. Results are copies;
// callers never share slices with the store.
func (s *Store) Executions(ctx context.Context, f storage.ExecutionFilter) ([]*types.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.ExecutionRecord
	collect := func(rows []execRow) {
		for _, row := range rows {
			rec := row.rec
			if f.Status != "" && rec.Status != f.Status {
				continue
			}
			if !f.After.IsZero() && rec.Timestamp.Before(f.After) {
				continue
			}
			if !f.Before.IsZero() && rec.Timestamp.After(f.Before) {
				continue
			}
			out = append(out, rec.Clone())
		}
	}

	if f.TestID != "" && f.EntityID != "" {
		collect(s.executions[storage.Key{TestID: f.TestID, EntityID: f.EntityID}])
	} else {
		for key, rows := range s.executions {
			if f.TestID != "" && key.TestID != f.TestID {
				continue
			}
			if f.EntityID != "" && key.EntityID != f.EntityID {
				continue
			}
			collect(rows)
		}
		// Cross-partition results need a global sort.
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Timestamp.Before(out[j].Timestamp)
		})
	}

	if f.Descending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// PruneExecutions deletes records older than cutoff, bounded to one
// partition when key is non-nil.
func (s *Store) PruneExecutions(ctx context.Context, cutoff time.Time, key *storage.Key) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	prune := func(k storage.Key) {
		rows := s.executions[k]
		// Partitions are timestamp-sorted; survivors are a suffix.
		idx := sort.Search(len(rows), func(i int) bool {
			return !rows[i].rec.Timestamp.Before(cutoff)
		})
		if idx == 0 {
			return
		}
		deleted += idx
		if idx == len(rows) {
			delete(s.executions, k)
			return
		}
		s.executions[k] = append([]execRow(nil), rows[idx:]...)
	}

	if key != nil {
		prune(*key)
		return deleted, nil
	}
	for k := range s.executions {
		prune(k)
	}
	return deleted, nil
}

// AppendEvent adds an evolution event to its partition.
func (s *Store) AppendEvent(ctx context.Context, ev *events.EvolutionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storage.Key{TestID: ev.TestID, EntityID: ev.EntityID}
	s.evolution[key] = append(s.evolution[key], ev)
	return nil
}

// Events returns events matching the filter, newest-first.
func (s *Store) Events(ctx context.Context, f events.Filter) ([]*events.EvolutionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*events.EvolutionEvent
	for key, evs := range s.evolution {
		if f.TestID != "" && key.TestID != f.TestID {
			continue
		}
		if f.EntityID != "" && key.EntityID != f.EntityID {
			continue
		}
		for _, ev := range evs {
			if f.Type != "" && ev.Type != f.Type {
				continue
			}
			if !f.After.IsZero() && ev.Timestamp.Before(f.After) {
				continue
			}
			if !f.Before.IsZero() && ev.Timestamp.After(f.Before) {
				continue
			}
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// PruneEvents deletes events older than cutoff.
func (s *Store) PruneEvents(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for key, evs := range s.evolution {
		kept := evs[:0]
		for _, ev := range evs {
			if ev.Timestamp.Before(cutoff) {
				deleted++
				continue
			}
			kept = append(kept, ev)
		}
		if len(kept) == 0 {
			delete(s.evolution, key)
			continue
		}
		s.evolution[key] = kept
	}
	return deleted, nil
}

// AppendSnapshot adds a snapshot to its partition.
func (s *Store) AppendSnapshot(ctx context.Context, snap *types.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storage.Key{TestID: snap.TestID, EntityID: snap.EntityID}
	s.snapshots[key] = append(s.snapshots[key], snap)
	return nil
}

// Snapshots returns snapshots matching the filter, oldest-first.
func (s *Store) Snapshots(ctx context.Context, f storage.SnapshotFilter) ([]*types.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Snapshot
	for key, snaps := range s.snapshots {
		if f.TestID != "" && key.TestID != f.TestID {
			continue
		}
		if f.EntityID != "" && key.EntityID != f.EntityID {
			continue
		}
		for _, snap := range snaps {
			if !f.After.IsZero() && snap.Timestamp.Before(f.After) {
				continue
			}
			if !f.Before.IsZero() && snap.Timestamp.After(f.Before) {
				continue
			}
			out = append(out, snap)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// PruneSnapshots deletes snapshots older than cutoff.
func (s *Store) PruneSnapshots(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for key, snaps := range s.snapshots {
		kept := snaps[:0]
		for _, snap := range snaps {
			if snap.Timestamp.Before(cutoff) {
				deleted++
				continue
			}
			kept = append(kept, snap)
		}
		if len(kept) == 0 {
			delete(s.snapshots, key)
			continue
		}
		s.snapshots[key] = kept
	}
	return deleted, nil
}

// PutRelationship inserts or replaces a relationship by id.
func (s *Store) PutRelationship(ctx context.Context, rel *types.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relationships[rel.RelationshipID] = rel.Clone()
	return nil
}

// GetRelationship returns the relationship with the given id.
func (s *Store) GetRelationship(ctx context.Context, id string) (*types.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rel, ok := s.relationships[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return rel.Clone(), nil
}

// Relationships returns relationships matching the filter.
func (s *Store) Relationships(ctx context.Context, f storage.RelationshipFilter) ([]*types.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Relationship
	for _, rel := range s.relationships {
		if f.TestID != "" && rel.TestID != f.TestID {
			continue
		}
		if f.EntityID != "" && rel.EntityID != f.EntityID {
			continue
		}
		if f.ActiveOnly && !rel.Active {
			continue
		}
		out = append(out, rel.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RelationshipID < out[j].RelationshipID
	})
	return out, nil
}

// Keys returns all known execution partitions.
func (s *Store) Keys(ctx context.Context) ([]storage.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]storage.Key, 0, len(s.executions))
	for key := range s.executions {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].TestID != keys[j].TestID {
			return keys[i].TestID < keys[j].TestID
		}
		return keys[i].EntityID < keys[j].EntityID
	})
	return keys, nil
}

// Counts returns aggregate stored volume. ApproxBytes is a flat
// per-record estimate, not a measured size.
func (s *Store) Counts(ctx context.Context) (*storage.Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := &storage.Counts{Relationships: len(s.relationships)}
	var oldest, newest time.Time
	for _, rows := range s.executions {
		c.Executions += len(rows)
		if len(rows) == 0 {
			continue
		}
		first := rows[0].rec.Timestamp
		last := rows[len(rows)-1].rec.Timestamp
		if oldest.IsZero() || first.Before(oldest) {
			oldest = first
		}
		if newest.IsZero() || last.After(newest) {
			newest = last
		}
	}
	for _, evs := range s.evolution {
		c.Events += len(evs)
	}
	for _, snaps := range s.snapshots {
		c.Snapshots += len(snaps)
	}
	if !oldest.IsZero() {
		c.OldestExecution = &oldest
	}
	if !newest.IsZero() {
		c.NewestExecution = &newest
	}
	c.ApproxBytes = int64(c.Executions)*320 + int64(c.Events)*280 +
		int64(c.Snapshots)*240 + int64(c.Relationships)*200
	return c, nil
}

// Close is a no-op for the in-memory backend.
func (s *Store) Close() error {
	return nil
}
