package history

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/testpulse/pulse/internal/events"
	"github.com/testpulse/pulse/internal/storage"
	"github.com/testpulse/pulse/internal/types"
)

// ExportFormat names a supported export encoding.
type ExportFormat string

const (
	// FormatJSON exports the full archive: all four entity kinds plus
	// the retention policy in effect at export time.
	FormatJSON ExportFormat = "json"
	// FormatCSV exports executions only, one row per record.
	FormatCSV ExportFormat = "csv"
)

// Archive is the JSON export envelope. Everything needed to rebuild a
// store travels in one document.
type Archive struct {
	ExportTimestamp time.Time                 `json:"export_timestamp"`
	RetentionPolicy RetentionPolicy           `json:"retention_policy"`
	SnapshotConfig  SnapshotConfig            `json:"snapshot_config"`
	Executions      []*types.ExecutionRecord  `json:"executions"`
	Snapshots       []*types.Snapshot         `json:"snapshots"`
	Events          []*events.EvolutionEvent  `json:"events"`
	Relationships   []*types.Relationship     `json:"relationships"`
}

// RetentionPolicy records the retention windows in effect at export
// time, in days.
type RetentionPolicy struct {
	ExecutionDays int `json:"execution_days"`
	SnapshotDays  int `json:"snapshot_days"`
	EventDays     int `json:"event_days"`
}

// SnapshotConfig records the snapshot cadence in effect at export time.
type SnapshotConfig struct {
	Cadence string `json:"cadence"`
}

// csvHeader is the fixed column set for CSV export and import. The
// "type" column carries the execution's suite id: records have no
// other kind discriminator, and the column name is part of the
// interchange format.
var csvHeader = []string{"timestamp", "test_id", "entity_id", "type", "status", "duration", "coverage"}

// Export writes the store's contents to w in the given format. JSON
// exports carry all four entity kinds; CSV exports carry executions
// only, with empty coverage cells for records without coverage data.
func (s *Store) Export(ctx context.Context, w io.Writer, format ExportFormat) error {
	switch format {
	case FormatJSON:
		return s.exportJSON(ctx, w)
	case FormatCSV:
		return s.exportCSV(ctx, w)
	default:
		return fmt.Errorf("unsupported export format %q (want json or csv)", format)
	}
}

func (s *Store) exportJSON(ctx context.Context, w io.Writer) error {
	execs, err := s.backend.Executions(ctx, storage.ExecutionFilter{})
	if err != nil {
		return fmt.Errorf("failed to export executions: %w", err)
	}
	snaps, err := s.backend.Snapshots(ctx, storage.SnapshotFilter{})
	if err != nil {
		return fmt.Errorf("failed to export snapshots: %w", err)
	}
	evs, err := s.backend.Events(ctx, events.Filter{})
	if err != nil {
		return fmt.Errorf("failed to export events: %w", err)
	}
	rels, err := s.backend.Relationships(ctx, storage.RelationshipFilter{})
	if err != nil {
		return fmt.Errorf("failed to export relationships: %w", err)
	}

	archive := Archive{
		ExportTimestamp: time.Now().UTC(),
		RetentionPolicy: RetentionPolicy{
			ExecutionDays: s.cfg.ExecutionRetentionDays,
			SnapshotDays:  s.cfg.SnapshotRetentionDays,
			EventDays:     s.cfg.EventRetentionDays,
		},
		SnapshotConfig: SnapshotConfig{Cadence: string(s.cfg.SnapshotCadence)},
		Executions:     execs,
		Snapshots:      snaps,
		Events:         evs,
		Relationships:  rels,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(archive); err != nil {
		return fmt.Errorf("failed to encode archive: %w", err)
	}
	return nil
}

func (s *Store) exportCSV(ctx context.Context, w io.Writer) error {
	execs, err := s.backend.Executions(ctx, storage.ExecutionFilter{})
	if err != nil {
		return fmt.Errorf("failed to export executions: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, rec := range execs {
		coverage := ""
		if rec.Coverage != nil {
			coverage = strconv.FormatFloat(rec.Coverage.Overall, 'f', -1, 64)
		}
		row := []string{
			rec.Timestamp.UTC().Format(time.RFC3339Nano),
			rec.TestID,
			rec.EntityID,
			rec.SuiteID,
			string(rec.Status),
			strconv.FormatFloat(rec.Duration, 'f', -1, 64),
			coverage,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Import reads an export from r and replays it into the store. The
// entire input is parsed and validated before any write happens, so a
// malformed document leaves the store untouched. Executions are
// replayed through StoreExecution and therefore pass through retention
// and snapshot cadence like live ingestion.
func (s *Store) Import(ctx context.Context, r io.Reader, format ExportFormat) (int, error) {
	switch format {
	case FormatJSON:
		return s.importJSON(ctx, r)
	case FormatCSV:
		return s.importCSV(ctx, r)
	default:
		return 0, fmt.Errorf("unsupported import format %q (want json or csv)", format)
	}
}

func (s *Store) importJSON(ctx context.Context, r io.Reader) (int, error) {
	var archive Archive
	if err := json.NewDecoder(r).Decode(&archive); err != nil {
		return 0, fmt.Errorf("failed to parse archive: %w", err)
	}

	for i, rec := range archive.Executions {
		if err := rec.Validate(); err != nil {
			return 0, fmt.Errorf("invalid execution at index %d: %w", i, err)
		}
	}
	for i, ev := range archive.Events {
		if ev.TestID == "" || ev.EntityID == "" || !ev.Type.IsValid() {
			return 0, fmt.Errorf("invalid event at index %d", i)
		}
	}

	imported := 0
	for _, rec := range archive.Executions {
		if err := s.StoreExecution(ctx, rec); err != nil {
			return imported, fmt.Errorf("failed to import execution %s: %w", rec.ExecutionID, err)
		}
		imported++
	}
	for _, ev := range archive.Events {
		if err := s.AppendEvent(ctx, ev); err != nil {
			return imported, fmt.Errorf("failed to import event %s: %w", ev.EventID, err)
		}
		imported++
	}
	for _, snap := range archive.Snapshots {
		if err := s.backend.AppendSnapshot(ctx, snap); err != nil {
			return imported, fmt.Errorf("failed to import snapshot %s: %w", snap.SnapshotID, err)
		}
		imported++
	}
	for _, rel := range archive.Relationships {
		if err := s.backend.PutRelationship(ctx, rel); err != nil {
			return imported, fmt.Errorf("failed to import relationship %s: %w", rel.RelationshipID, err)
		}
		imported++
	}

	s.log.Info().Int("imported", imported).Msg("archive imported")
	return imported, nil
}

func (s *Store) importCSV(ctx context.Context, r io.Reader) (int, error) {
	cr := csv.NewReader(r)
	rows, err := cr.ReadAll()
	if err != nil {
		return 0, fmt.Errorf("failed to parse csv: %w", err)
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("csv input is empty")
	}
	if len(rows[0]) != len(csvHeader) || rows[0][0] != csvHeader[0] {
		return 0, fmt.Errorf("unexpected csv header %v", rows[0])
	}

	// Parse every row before the first write.
	records := make([]*types.ExecutionRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rec, err := parseCSVRow(row)
		if err != nil {
			return 0, fmt.Errorf("invalid csv row %d: %w", i+2, err)
		}
		records = append(records, rec)
	}

	imported := 0
	for _, rec := range records {
		if err := s.StoreExecution(ctx, rec); err != nil {
			return imported, fmt.Errorf("failed to import execution for test %s: %w", rec.TestID, err)
		}
		imported++
	}
	s.log.Info().Int("imported", imported).Msg("csv imported")
	return imported, nil
}

func parseCSVRow(row []string) (*types.ExecutionRecord, error) {
	if len(row) != len(csvHeader) {
		return nil, fmt.Errorf("expected %d columns, got %d", len(csvHeader), len(row))
	}
	ts, err := time.Parse(time.RFC3339Nano, row[0])
	if err != nil {
		return nil, fmt.Errorf("bad timestamp: %w", err)
	}
	duration, err := strconv.ParseFloat(row[5], 64)
	if err != nil {
		return nil, fmt.Errorf("bad duration: %w", err)
	}
	rec := &types.ExecutionRecord{
		Timestamp: ts,
		TestID:    row[1],
		EntityID:  row[2],
		SuiteID:   row[3], // the "type" column, see csvHeader
		Status:    types.Status(row[4]),
		Duration:  duration,
	}
	if row[6] != "" {
		overall, err := strconv.ParseFloat(row[6], 64)
		if err != nil {
			return nil, fmt.Errorf("bad coverage: %w", err)
		}
		rec.Coverage = &types.CoverageData{Overall: overall}
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}
