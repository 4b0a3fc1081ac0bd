package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Motion, Objects, PostProcessorResults and Events are non-load-bearing per
// spec.md §4.5 — nothing in the recorder or HLS path reads them back, they
// exist so a post-processor or external UI has somewhere to persist
// detection history alongside a Recording. Kept minimal and only reachable
// through this one file.

type MotionRow struct {
	ID          string
	CameraID    string
	RecordingID string
	DetectedAt  time.Time
}

type ObjectRow struct {
	ID          string
	CameraID    string
	RecordingID string
	Label       string
	Confidence  float64
	DetectedAt  time.Time
}

type PostProcessorResult struct {
	ID            string
	RecordingID   string
	ProcessorName string
	ResultJSON    string
	CreatedAt     time.Time
}

type EventRow struct {
	ID          string
	CameraID    string
	RecordingID string
	Kind        string
	PayloadJSON string
	CreatedAt   time.Time
}

func (s *SQLiteDB) InsertMotion(m MotionRow) error {
	_, err := s.db.Exec(
		`INSERT INTO motion (id, camera_identifier, recording_id, detected_at) VALUES (?,?,?,?)`,
		m.ID, m.CameraID, nullableString(m.RecordingID), m.DetectedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert motion row: %v", err)
	}
	return nil
}

func (s *SQLiteDB) InsertObject(o ObjectRow) error {
	_, err := s.db.Exec(
		`INSERT INTO objects (id, camera_identifier, recording_id, label, confidence, detected_at) VALUES (?,?,?,?,?,?)`,
		o.ID, o.CameraID, nullableString(o.RecordingID), o.Label, o.Confidence, o.DetectedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert object row: %v", err)
	}
	return nil
}

func (s *SQLiteDB) ListObjectsByRecording(recordingID string) ([]ObjectRow, error) {
	rows, err := s.db.Query(
		`SELECT id, camera_identifier, recording_id, label, confidence, detected_at FROM objects WHERE recording_id = ? ORDER BY detected_at ASC`,
		recordingID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects for recording %s: %v", recordingID, err)
	}
	defer rows.Close()

	var out []ObjectRow
	for rows.Next() {
		var o ObjectRow
		var recID sql.NullString
		var detectedAt string
		if err := rows.Scan(&o.ID, &o.CameraID, &recID, &o.Label, &o.Confidence, &detectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan object row: %v", err)
		}
		o.RecordingID = recID.String
		o.DetectedAt, _ = time.Parse(time.RFC3339Nano, detectedAt)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *SQLiteDB) InsertPostProcessorResult(r PostProcessorResult) error {
	_, err := s.db.Exec(
		`INSERT INTO post_processor_results (id, recording_id, processor_name, result_json, created_at) VALUES (?,?,?,?,?)`,
		r.ID, r.RecordingID, r.ProcessorName, r.ResultJSON, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert post-processor result: %v", err)
	}
	return nil
}

func (s *SQLiteDB) InsertEvent(e EventRow) error {
	_, err := s.db.Exec(
		`INSERT INTO events (id, camera_identifier, recording_id, kind, payload_json, created_at) VALUES (?,?,?,?,?,?)`,
		e.ID, e.CameraID, nullableString(e.RecordingID), e.Kind, e.PayloadJSON, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event row: %v", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
