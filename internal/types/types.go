// Package types defines the shared data model for the test-health
// analytics engine: execution records, relationships, snapshots,
// trends, health scores, and alerts.
package types

import (
	"fmt"
	"time"
)

// Status represents the outcome of a single test execution.
type Status string

const (
	// StatusPass indicates the test passed
	StatusPass Status = "pass"
	// StatusFail indicates the test failed
	StatusFail Status = "fail"
	// StatusSkip indicates the test was skipped
	StatusSkip Status = "skip"
)

// IsValid reports whether s is a recognized execution status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPass, StatusFail, StatusSkip:
		return true
	}
	return false
}

// CoverageData holds coverage figures attached to an execution.
// Overall is the only field the engine interprets; the rest are
// carried through for reporting.
type CoverageData struct {
	// Overall is the combined coverage ratio in [0, 1]
	Overall float64 `json:"overall"`
	// Lines is line coverage, if the producer reports it
	Lines float64 `json:"lines,omitempty"`
	// Branches is branch coverage, if the producer reports it
	Branches float64 `json:"branches,omitempty"`
	// Functions is function coverage, if the producer reports it
	Functions float64 `json:"functions,omitempty"`
}

// ExecutionRecord is a single test execution outcome. Records are
// immutable once stored and ordered by timestamp within their
// (TestID, EntityID) partition.
type ExecutionRecord struct {
	// ExecutionID is the unique identifier for this execution
	ExecutionID string `json:"execution_id"`
	// SuiteID identifies the test suite the test belongs to
	SuiteID string `json:"suite_id,omitempty"`
	// RunID identifies the CI run that produced this execution
	RunID string `json:"run_id,omitempty"`
	// TestID identifies the test that was executed
	TestID string `json:"test_id"`
	// EntityID identifies the code entity the test exercises
	EntityID string `json:"entity_id"`
	// Timestamp is when the execution finished
	Timestamp time.Time `json:"timestamp"`
	// Status is the execution outcome
	Status Status `json:"status"`
	// Duration is the execution time in milliseconds (>= 0)
	Duration float64 `json:"duration"`
	// Coverage is the coverage measured during this execution, if any
	Coverage *CoverageData `json:"coverage,omitempty"`
	// Environment carries producer-defined environment labels (os, ci, branch)
	Environment map[string]string `json:"environment,omitempty"`
}

// Validate checks the record for ingestion. Validation failures leave
// no partial state behind; callers reject the record outright.
func (r *ExecutionRecord) Validate() error {
	if r == nil {
		return fmt.Errorf("execution record is nil")
	}
	if r.TestID == "" {
		return fmt.Errorf("execution record missing test_id")
	}
	if r.EntityID == "" {
		return fmt.Errorf("execution record missing entity_id")
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("invalid execution status %q (want pass, fail, or skip)", r.Status)
	}
	if r.Duration < 0 {
		return fmt.Errorf("execution duration cannot be negative (got %v)", r.Duration)
	}
	return nil
}

// Clone returns a deep copy of the record.
func (r *ExecutionRecord) Clone() *ExecutionRecord {
	out := *r
	if r.Coverage != nil {
		cov := *r.Coverage
		out.Coverage = &cov
	}
	if r.Environment != nil {
		out.Environment = make(map[string]string, len(r.Environment))
		for k, v := range r.Environment {
			out.Environment[k] = v
		}
	}
	return &out
}

// Relationship is a time-bounded assertion that a test exercises a
// code entity. At most one relationship per RelationshipID is active
// at any instant; closing stamps ValidTo and clears Active.
type Relationship struct {
	// RelationshipID is the deterministic hash of (test, entity, type, suite)
	RelationshipID string `json:"relationship_id"`
	// TestID identifies the test side of the relationship
	TestID string `json:"test_id"`
	// EntityID identifies the entity side of the relationship
	EntityID string `json:"entity_id"`
	// Type is the relationship kind (e.g. "covers", "exercises")
	Type string `json:"type"`
	// SuiteID is the suite the relationship was observed under
	SuiteID string `json:"suite_id,omitempty"`
	// ValidFrom is the start of the validity interval
	ValidFrom time.Time `json:"valid_from"`
	// ValidTo is the end of the validity interval; nil while active
	ValidTo *time.Time `json:"valid_to,omitempty"`
	// Active reports whether the relationship currently holds
	Active bool `json:"active"`
	// Confidence is the strength of the assertion in [0, 1]
	Confidence float64 `json:"confidence"`
	// Evidence lists the observations backing the assertion
	Evidence []string `json:"evidence,omitempty"`
	// Metadata carries producer-defined annotations
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the relationship.
func (r *Relationship) Clone() *Relationship {
	out := *r
	if r.ValidTo != nil {
		t := *r.ValidTo
		out.ValidTo = &t
	}
	out.Evidence = append([]string(nil), r.Evidence...)
	if r.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// SnapshotMetrics is the rollup computed over a partition's history
// when a snapshot is taken.
type SnapshotMetrics struct {
	// TotalExecutions is the number of executions in the partition
	TotalExecutions int `json:"total_executions"`
	// PassCount is the number of passing executions
	PassCount int `json:"pass_count"`
	// FailCount is the number of failing executions
	FailCount int `json:"fail_count"`
	// SkipCount is the number of skipped executions
	SkipCount int `json:"skip_count"`
	// SuccessRate is PassCount over non-skipped executions
	SuccessRate float64 `json:"success_rate"`
	// AvgDuration is the mean execution time in milliseconds
	AvgDuration float64 `json:"avg_duration"`
	// FlakinessScore is the failure ratio over the trailing window
	FlakinessScore float64 `json:"flakiness_score"`
	// LastPass is the timestamp of the most recent pass, if any
	LastPass *time.Time `json:"last_pass,omitempty"`
	// LastFail is the timestamp of the most recent failure, if any
	LastFail *time.Time `json:"last_fail,omitempty"`
}

// Snapshot is a periodic rollup of a partition's recent metrics,
// retained independently of the raw execution history.
type Snapshot struct {
	// SnapshotID is the unique identifier for this snapshot
	SnapshotID string `json:"snapshot_id"`
	// Timestamp is when the snapshot was taken
	Timestamp time.Time `json:"timestamp"`
	// TestID identifies the test
	TestID string `json:"test_id"`
	// EntityID identifies the entity
	EntityID string `json:"entity_id"`
	// Status is the status of the most recent execution at snapshot time
	Status Status `json:"status"`
	// Coverage is the most recent coverage at snapshot time, if any
	Coverage *CoverageData `json:"coverage,omitempty"`
	// Metrics is the rollup over the partition's history
	Metrics SnapshotMetrics `json:"metrics"`
	// Metadata carries caller-supplied annotations
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// TrendMetric names a scalar series derivable from execution records.
type TrendMetric string

const (
	// MetricCoverage tracks coverage.overall per execution
	MetricCoverage TrendMetric = "coverage"
	// MetricSuccessRate tracks 1 for pass, 0 otherwise
	MetricSuccessRate TrendMetric = "success_rate"
	// MetricExecutionTime tracks execution duration in milliseconds
	MetricExecutionTime TrendMetric = "execution_time"
	// MetricFlakiness tracks 1 for fail, 0 otherwise
	MetricFlakiness TrendMetric = "flakiness"
)

// IsValid reports whether m names a known metric.
func (m TrendMetric) IsValid() bool {
	switch m {
	case MetricCoverage, MetricSuccessRate, MetricExecutionTime, MetricFlakiness:
		return true
	}
	return false
}

// TrendDirection classifies the slope of a fitted trend.
type TrendDirection string

const (
	// TrendIncreasing indicates a positive slope
	TrendIncreasing TrendDirection = "increasing"
	// TrendDecreasing indicates a negative slope
	TrendDecreasing TrendDirection = "decreasing"
	// TrendStable indicates a slope inside the dead-zone
	TrendStable TrendDirection = "stable"
)

// TimePoint is a single (timestamp, value) observation in a series.
type TimePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Trend is a fitted linear trend over a metric series.
type Trend struct {
	// TrendID is the unique identifier for this trend
	TrendID string `json:"trend_id"`
	// TestID identifies the test the trend was computed for
	TestID string `json:"test_id,omitempty"`
	// EntityID identifies the entity the trend was computed for
	EntityID string `json:"entity_id,omitempty"`
	// Metric is the series the trend was fitted over
	Metric TrendMetric `json:"metric"`
	// Period is the analysis period label (e.g. "weekly")
	Period string `json:"period,omitempty"`
	// Direction classifies the fitted slope
	Direction TrendDirection `json:"direction"`
	// Magnitude is the absolute fitted slope per observation
	Magnitude float64 `json:"magnitude"`
	// Confidence is derived from the fit's R², clamped to [0, 1]
	Confidence float64 `json:"confidence"`
	// StartDate is the timestamp of the first observation
	StartDate time.Time `json:"start_date"`
	// EndDate is the timestamp of the last observation
	EndDate time.Time `json:"end_date"`
	// DataPoints are the observations the trend was fitted over
	DataPoints []TimePoint `json:"data_points,omitempty"`
}

// HealthScore is a derived, never-persisted composite view of a
// test's condition. All factors lie in [0, 1].
type HealthScore struct {
	// Overall is 0.4*coverage + 0.3*performance + 0.3*stability, clamped
	Overall float64 `json:"overall"`
	// Coverage is the coverage factor
	Coverage float64 `json:"coverage"`
	// Performance is max(0, 1 - (current/baseline - 1))
	Performance float64 `json:"performance"`
	// Stability is 1 - flakiness score
	Stability float64 `json:"stability"`
	// Trend is an informational trend factor (0.5 = flat)
	Trend float64 `json:"trend"`
}

// AlertSeverity classifies how urgent an alert is.
type AlertSeverity string

const (
	// SeverityLow indicates an informational alert
	SeverityLow AlertSeverity = "low"
	// SeverityMedium indicates an alert worth triaging
	SeverityMedium AlertSeverity = "medium"
	// SeverityHigh indicates an alert requiring prompt attention
	SeverityHigh AlertSeverity = "high"
	// SeverityCritical indicates an alert requiring immediate attention
	SeverityCritical AlertSeverity = "critical"
)

// AlertStatus tracks an alert through rate limiting and dispatch.
type AlertStatus string

const (
	// AlertPending means the alert has been raised but not dispatched
	AlertPending AlertStatus = "pending"
	// AlertSent means the alert was dispatched to at least one channel
	AlertSent AlertStatus = "sent"
	// AlertSuppressed means the rate limiter dropped the alert
	AlertSuppressed AlertStatus = "suppressed"
)

// Alert is a threshold violation raised by alert-condition evaluation.
// Alerts pass through rate limiting before dispatch.
type Alert struct {
	// AlertID is the unique identifier for this alert
	AlertID string `json:"alert_id"`
	// Timestamp is when the alert was raised
	Timestamp time.Time `json:"timestamp"`
	// Type is the alert condition that fired (failure_rate, flakiness, ...)
	Type string `json:"type"`
	// Severity classifies urgency
	Severity AlertSeverity `json:"severity"`
	// Message is the human-readable summary
	Message string `json:"message"`
	// AffectedTests lists the test ids the alert concerns
	AffectedTests []string `json:"affected_tests,omitempty"`
	// Details carries condition-specific values and recommendations
	Details map[string]interface{} `json:"details,omitempty"`
	// Status tracks the alert through dispatch
	Status AlertStatus `json:"status"`
}

// HistoryQuery is a filtered, time-bounded read over stored executions.
type HistoryQuery struct {
	// TestID filters by test id; empty matches all
	TestID string
	// EntityID filters by entity id; empty matches all
	EntityID string
	// Start bounds the query to executions at or after this time
	Start time.Time
	// End bounds the query to executions at or before this time
	End time.Time
	// Status filters by execution status; empty matches all
	Status Status
	// Limit caps the number of returned records; 0 means unlimited
	Limit int
}
