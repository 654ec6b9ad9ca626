// Package events defines evolution events: derived, append-only
// records of detected changes in a test's behavior over time.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the kind of change an evolution event records.
type EventType string

const (
	// EventTestModified indicates a new execution was recorded for the test
	EventTestModified EventType = "test_modified"
	// EventCoverageIncreased indicates coverage rose beyond the change threshold
	EventCoverageIncreased EventType = "coverage_increased"
	// EventCoverageDecreased indicates coverage fell beyond the change threshold
	EventCoverageDecreased EventType = "coverage_decreased"
	// EventPerformanceRegression indicates duration grew beyond the regression ratio
	EventPerformanceRegression EventType = "performance_regression"
	// EventPerformanceImprovement indicates duration shrank beyond the regression ratio
	EventPerformanceImprovement EventType = "performance_improvement"
	// EventFlakinessDetected indicates the trailing failure ratio crossed the flakiness threshold
	EventFlakinessDetected EventType = "flakiness_detected"
	// EventRelationshipAdded indicates a test-entity relationship was created or refreshed
	EventRelationshipAdded EventType = "relationship_added"
	// EventRelationshipRemoved indicates a test-entity relationship was closed
	EventRelationshipRemoved EventType = "relationship_removed"
)

// IsValid reports whether t is a recognized event type.
func (t EventType) IsValid() bool {
	switch t {
	case EventTestModified, EventCoverageIncreased, EventCoverageDecreased,
		EventPerformanceRegression, EventPerformanceImprovement,
		EventFlakinessDetected, EventRelationshipAdded, EventRelationshipRemoved:
		return true
	}
	return false
}

// EvolutionEvent is a derived, timestamped record of a detected change
// in a test's behavior. Events are append-only and never mutated.
type EvolutionEvent struct {
	// EventID is the unique identifier for this event
	EventID string `json:"event_id"`
	// TestID identifies the test the change concerns
	TestID string `json:"test_id"`
	// EntityID identifies the entity the change concerns
	EntityID string `json:"entity_id"`
	// Timestamp is when the change was detected
	Timestamp time.Time `json:"timestamp"`
	// Type is the kind of change
	Type EventType `json:"type"`
	// PreviousState captures relevant values before the change, if known
	PreviousState map[string]interface{} `json:"previous_state,omitempty"`
	// NewState captures relevant values after the change
	NewState map[string]interface{} `json:"new_state,omitempty"`
	// ChangeSetID links the event to an external change set, if any
	ChangeSetID string `json:"change_set_id,omitempty"`
	// Metadata carries detector-specific annotations
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// New creates an evolution event with a fresh id and the given states.
func New(eventType EventType, testID, entityID string, prev, next map[string]interface{}) *EvolutionEvent {
	return &EvolutionEvent{
		EventID:       uuid.New().String(),
		TestID:        testID,
		EntityID:      entityID,
		Timestamp:     time.Now().UTC(),
		Type:          eventType,
		PreviousState: prev,
		NewState:      next,
		Metadata:      make(map[string]interface{}),
	}
}

// NewAt creates an evolution event stamped with an explicit timestamp.
// Used when events are derived from historical executions rather than
// live ingestion.
func NewAt(eventType EventType, testID, entityID string, ts time.Time, prev, next map[string]interface{}) *EvolutionEvent {
	ev := New(eventType, testID, entityID, prev, next)
	ev.Timestamp = ts
	return ev
}

// Filter defines criteria for querying stored evolution events.
type Filter struct {
	// TestID filters events by test id; empty matches all
	TestID string
	// EntityID filters events by entity id; empty matches all
	EntityID string
	// Type filters events by type; empty matches all
	Type EventType
	// After filters events that occurred at or after this time
	After time.Time
	// Before filters events that occurred at or before this time
	Before time.Time
	// Limit caps the number of returned events; 0 means unlimited
	Limit int
}
