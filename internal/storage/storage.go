// Package storage defines the persistence boundary for the four
// entity kinds the engine owns: execution records, evolution events,
// snapshots, and relationships. Backends only need composite-key
// get/put semantics plus range queries by timestamp; retention
// pruning is driven from above.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/testpulse/pulse/internal/events"
	"github.com/testpulse/pulse/internal/types"
)

// ErrNotFound is returned by point lookups for unknown keys.
// Collection queries never return it; they return empty results.
var ErrNotFound = errors.New("not found")

// Key identifies an execution history partition.
type Key struct {
	TestID   string
	EntityID string
}

// ExecutionFilter selects execution records.
type ExecutionFilter struct {
	// TestID filters by test id; empty matches all
	TestID string
	// EntityID filters by entity id; empty matches all
	EntityID string
	// Status filters by execution status; empty matches all
	Status types.Status
	// After bounds results to executions at or after this time
	After time.Time
	// Before bounds results to executions at or before this time
	Before time.Time
	// Limit caps the number of results; 0 means unlimited
	Limit int
	// Descending returns newest-first when set; default is oldest-first
	Descending bool
}

// SnapshotFilter selects snapshots.
type SnapshotFilter struct {
	TestID   string
	EntityID string
	After    time.Time
	Before   time.Time
	Limit    int
}

// RelationshipFilter selects relationships.
type RelationshipFilter struct {
	// TestID filters by test id; empty matches all
	TestID string
	// EntityID filters by entity id; empty matches all
	EntityID string
	// ActiveOnly restricts results to currently active relationships
	ActiveOnly bool
}

// Counts summarizes stored volume for statistics reporting.
type Counts struct {
	Executions      int
	Events          int
	Snapshots       int
	Relationships   int
	OldestExecution *time.Time
	NewestExecution *time.Time
	// ApproxBytes is an estimate of stored size, not an exact figure
	ApproxBytes int64
}

// Store is the backend persistence contract. Implementations keep
// each execution partition ordered by timestamp (stable on row id for
// ties) and support timestamp-scoped pruning per kind. A relational,
// document, or embedded key-value backend all satisfy this.
type Store interface {
	// AppendExecution adds a record to its partition, keeping the
	// partition sorted by timestamp even under out-of-order delivery.
	AppendExecution(ctx context.Context, rec *types.ExecutionRecord) error
	// Executions returns records matching the filter. Unknown keys
	// yield empty results, never errors.
	Executions(ctx context.Context, f ExecutionFilter) ([]*types.ExecutionRecord, error)
	// PruneExecutions deletes executions older than cutoff. A non-nil
	// key bounds the prune to one partition. Returns the count deleted.
	PruneExecutions(ctx context.Context, cutoff time.Time, key *Key) (int, error)

	// AppendEvent adds an evolution event.
	AppendEvent(ctx context.Context, ev *events.EvolutionEvent) error
	// Events returns events matching the filter, newest-first.
	Events(ctx context.Context, f events.Filter) ([]*events.EvolutionEvent, error)
	// PruneEvents deletes events older than cutoff.
	PruneEvents(ctx context.Context, cutoff time.Time) (int, error)

	// AppendSnapshot adds a snapshot.
	AppendSnapshot(ctx context.Context, snap *types.Snapshot) error
	// Snapshots returns snapshots matching the filter, oldest-first.
	Snapshots(ctx context.Context, f SnapshotFilter) ([]*types.Snapshot, error)
	// PruneSnapshots deletes snapshots older than cutoff.
	PruneSnapshots(ctx context.Context, cutoff time.Time) (int, error)

	// PutRelationship inserts or replaces a relationship by id.
	PutRelationship(ctx context.Context, rel *types.Relationship) error
	// GetRelationship returns the relationship with the given id, or
	// ErrNotFound.
	GetRelationship(ctx context.Context, id string) (*types.Relationship, error)
	// Relationships returns relationships matching the filter.
	Relationships(ctx context.Context, f RelationshipFilter) ([]*types.Relationship, error)

	// Keys returns all known execution partitions.
	Keys(ctx context.Context) ([]Key, error)
	// Counts returns aggregate stored volume.
	Counts(ctx context.Context) (*Counts, error)

	// Close releases backend resources.
	Close() error
}
