package database

import (
	"database/sql"
	"fmt"
	"log"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDB is the sqlite-backed Segment Index, adapted from the teacher's
// database/sqlite.go connection-setup and migration idiom: CREATE TABLE IF
// NOT EXISTS for the baseline schema, then a linear list of ALTER TABLE
// migrations that are allowed to fail ("ignore if column exists") so the
// same binary can start against either an empty or a partially-migrated
// database file.
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens (or creates) the sqlite database at path and brings its
// schema up to date.
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}
	db.SetMaxOpenConns(1) // single serialized writer, per spec.md §5

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %v", err)
	}

	return &SQLiteDB{db: db}, nil
}

// migration describes one forward-only ALTER TABLE step, applied in order
// and tolerant of "duplicate column" failures against an already-migrated
// database.
type migration struct {
	name  string
	query string
}

func initSchema(db *sql.DB) error {
	baseline := []string{
		`CREATE TABLE IF NOT EXISTS files (
			id TEXT PRIMARY KEY,
			tier_id INTEGER NOT NULL,
			tier_path TEXT NOT NULL,
			camera_identifier TEXT NOT NULL,
			category TEXT NOT NULL,
			subcategory TEXT NOT NULL,
			path TEXT NOT NULL UNIQUE,
			directory TEXT NOT NULL,
			filename TEXT NOT NULL,
			size INTEGER NOT NULL DEFAULT 0,
			orig_ctime DATETIME NOT NULL,
			duration REAL,
			recording_id TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_files_camera_tier_cat ON files(camera_identifier, tier_id, category, subcategory)`,
		`CREATE INDEX IF NOT EXISTS idx_files_orig_ctime ON files(orig_ctime)`,
		`CREATE INDEX IF NOT EXISTS idx_files_recording ON files(recording_id)`,

		`CREATE TABLE IF NOT EXISTS recordings (
			id TEXT PRIMARY KEY,
			camera_identifier TEXT NOT NULL,
			start_time DATETIME NOT NULL,
			adjusted_start_time DATETIME NOT NULL,
			end_time DATETIME,
			trigger_type TEXT NOT NULL,
			trigger_id TEXT,
			thumbnail_path TEXT,
			clip_path TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_recordings_camera_start ON recordings(camera_identifier, start_time DESC)`,

		// Non-load-bearing per spec.md §4.5, kept minimal: detector result
		// tables a post-processor or UI could join against.
		`CREATE TABLE IF NOT EXISTS motion (
			id TEXT PRIMARY KEY,
			camera_identifier TEXT NOT NULL,
			recording_id TEXT,
			detected_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS objects (
			id TEXT PRIMARY KEY,
			camera_identifier TEXT NOT NULL,
			recording_id TEXT,
			label TEXT NOT NULL,
			confidence REAL NOT NULL,
			detected_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS post_processor_results (
			id TEXT PRIMARY KEY,
			recording_id TEXT NOT NULL,
			processor_name TEXT NOT NULL,
			result_json TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			camera_identifier TEXT NOT NULL,
			recording_id TEXT,
			kind TEXT NOT NULL,
			payload_json TEXT,
			created_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS system_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS schema_migrations (
			id TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL
		)`,
	}

	for _, stmt := range baseline {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply baseline schema: %v", err)
		}
	}

	// Linear migration list, preserved and extended forward-only per
	// spec.md §9. Each entry is idempotent: re-running against a database
	// that already has the column logs and continues, matching the
	// teacher's "Info: Migration for X: %v (ignore if column exists)".
	migrations := []migration{
		{"files.recording_id", `ALTER TABLE files ADD COLUMN recording_id TEXT`},
		{"recordings.adjusted_start_time", `ALTER TABLE recordings ADD COLUMN adjusted_start_time DATETIME`},
	}
	for _, m := range migrations {
		if _, err := db.Exec(m.query); err != nil {
			log.Printf("[database] Info: migration %s: %v (ignore if column exists)", m.name, err)
		}
		_, _ = db.Exec(`INSERT OR IGNORE INTO schema_migrations(id, applied_at) VALUES (?, ?)`, m.name, time.Now().UTC())
	}

	return nil
}

func scanFile(row interface{ Scan(...any) error }) (File, error) {
	var f File
	var duration sql.NullFloat64
	var recordingID sql.NullString
	var origCTime, createdAt, updatedAt string
	err := row.Scan(&f.ID, &f.TierID, &f.TierPath, &f.CameraID, &f.Category, &f.Subcategory,
		&f.Path, &f.Directory, &f.Filename, &f.Size, &origCTime, &duration, &recordingID, &createdAt, &updatedAt)
	if err != nil {
		return File{}, err
	}
	f.OrigCTime, _ = time.Parse(time.RFC3339Nano, origCTime)
	f.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	f.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if duration.Valid {
		d := duration.Float64
		f.Duration = &d
	}
	if recordingID.Valid {
		f.RecordingID = recordingID.String
	}
	return f, nil
}

const fileColumns = `id, tier_id, tier_path, camera_identifier, category, subcategory, path, directory, filename, size, orig_ctime, duration, recording_id, created_at, updated_at`

func (s *SQLiteDB) CreateFile(f File) error {
	now := time.Now().UTC()
	f.CreatedAt, f.UpdatedAt = now, now
	var duration any
	if f.Duration != nil {
		duration = *f.Duration
	}
	var recordingID any
	if f.RecordingID != "" {
		recordingID = f.RecordingID
	}
	_, err := s.db.Exec(
		`INSERT INTO files (`+fileColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(path) DO NOTHING`,
		f.ID, f.TierID, f.TierPath, f.CameraID, f.Category, f.Subcategory,
		f.Path, f.Directory, f.Filename, f.Size, f.OrigCTime.Format(time.RFC3339Nano),
		duration, recordingID, f.CreatedAt.Format(time.RFC3339Nano), f.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to create file row for %s: %v", f.Path, err)
	}
	return nil
}

func (s *SQLiteDB) UpdateFileDuration(path string, duration float64) error {
	_, err := s.db.Exec(`UPDATE files SET duration = ?, updated_at = ? WHERE path = ?`,
		duration, time.Now().UTC().Format(time.RFC3339Nano), path)
	if err != nil {
		return fmt.Errorf("failed to update duration for %s: %v", path, err)
	}
	return nil
}

// MoveFile rewrites the row at oldPath to reflect its new tier/path. Per
// spec.md §3 invariants, the row is rewritten atomically and only after the
// destination write is durable — the caller (tier.Manager) is responsible
// for the fsync-before-rewrite ordering; this just performs the row update.
func (s *SQLiteDB) MoveFile(oldPath string, f File) error {
	var duration any
	if f.Duration != nil {
		duration = *f.Duration
	}
	_, err := s.db.Exec(
		`UPDATE files SET tier_id=?, tier_path=?, path=?, directory=?, filename=?, duration=?, updated_at=? WHERE path=?`,
		f.TierID, f.TierPath, f.Path, f.Directory, f.Filename, duration,
		time.Now().UTC().Format(time.RFC3339Nano), oldPath,
	)
	if err != nil {
		return fmt.Errorf("failed to move file row %s -> %s: %v", oldPath, f.Path, err)
	}
	return nil
}

func (s *SQLiteDB) DeleteFile(path string) error {
	_, err := s.db.Exec(`DELETE FROM files WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("failed to delete file row %s: %v", path, err)
	}
	return nil
}

func (s *SQLiteDB) GetFile(path string) (*File, error) {
	row := s.db.QueryRow(`SELECT `+fileColumns+` FROM files WHERE path = ?`, path)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file %s: %v", path, err)
	}
	return &f, nil
}

func (s *SQLiteDB) ListFilesByCameraTier(cameraID string, tierID int, category Category, subcategory Subcategory) ([]File, error) {
	rows, err := s.db.Query(
		`SELECT `+fileColumns+` FROM files WHERE camera_identifier=? AND tier_id=? AND category=? AND subcategory=? ORDER BY orig_ctime ASC`,
		cameraID, tierID, category, subcategory,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list files for %s tier %d: %v", cameraID, tierID, err)
	}
	defer rows.Close()
	return scanFiles(rows)
}

// ListFilesInWindow returns fragments whose interval intersects
// [from, to], including the one fragment that starts before the window but
// ends inside it, per spec.md §4.8 step 1.
func (s *SQLiteDB) ListFilesInWindow(cameraID string, from, to time.Time) ([]File, error) {
	rows, err := s.db.Query(
		`SELECT `+fileColumns+` FROM files
		 WHERE camera_identifier = ? AND category = 'recorder' AND subcategory = 'segments'
		   AND julianday(orig_ctime) <= julianday(?)
		   AND julianday(orig_ctime) + COALESCE(duration, 0) / 86400.0 >= julianday(?)
		 ORDER BY orig_ctime ASC, created_at DESC`,
		cameraID, to.UTC().Format(time.RFC3339Nano), from.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		// if the query itself fails, fall back to an application-side filter.
		return s.listFilesInWindowFallback(cameraID, from, to)
	}
	defer rows.Close()
	files, err := scanFiles(rows)
	if err != nil {
		return s.listFilesInWindowFallback(cameraID, from, to)
	}
	return files, nil
}

func (s *SQLiteDB) listFilesInWindowFallback(cameraID string, from, to time.Time) ([]File, error) {
	rows, err := s.db.Query(
		`SELECT `+fileColumns+` FROM files WHERE camera_identifier=? AND category='recorder' AND subcategory='segments' ORDER BY orig_ctime ASC, created_at DESC`,
		cameraID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list files in window for %s: %v", cameraID, err)
	}
	defer rows.Close()
	all, err := scanFiles(rows)
	if err != nil {
		return nil, err
	}
	var out []File
	for _, f := range all {
		dur := 0.0
		if f.Duration != nil {
			dur = *f.Duration
		}
		end := f.OrigCTime.Add(time.Duration(dur * float64(time.Second)))
		if !f.OrigCTime.After(to) && !end.Before(from) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *SQLiteDB) ListFilesByRecording(recordingID string) ([]File, error) {
	rows, err := s.db.Query(`SELECT `+fileColumns+` FROM files WHERE recording_id = ? ORDER BY orig_ctime ASC`, recordingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files for recording %s: %v", recordingID, err)
	}
	defer rows.Close()
	return scanFiles(rows)
}

func scanFiles(rows *sql.Rows) ([]File, error) {
	var out []File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file row: %v", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

const recordingColumns = `id, camera_identifier, start_time, adjusted_start_time, end_time, trigger_type, trigger_id, thumbnail_path, clip_path, created_at, updated_at`

func scanRecording(row interface{ Scan(...any) error }) (Recording, error) {
	var r Recording
	var endTime, clipPath, thumbnailPath, triggerID sql.NullString
	var startTime, adjustedStartTime, createdAt, updatedAt string
	err := row.Scan(&r.ID, &r.CameraID, &startTime, &adjustedStartTime, &endTime,
		&r.TriggerType, &triggerID, &thumbnailPath, &clipPath, &createdAt, &updatedAt)
	if err != nil {
		return Recording{}, err
	}
	r.StartTime, _ = time.Parse(time.RFC3339Nano, startTime)
	r.AdjustedStartTime, _ = time.Parse(time.RFC3339Nano, adjustedStartTime)
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if endTime.Valid && endTime.String != "" {
		t, err := time.Parse(time.RFC3339Nano, endTime.String)
		if err == nil {
			r.EndTime = &t
		}
	}
	r.TriggerID = triggerID.String
	r.ThumbnailPath = thumbnailPath.String
	r.ClipPath = clipPath.String
	return r, nil
}

func (s *SQLiteDB) CreateRecording(r Recording) error {
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	var endTime any
	if r.EndTime != nil {
		endTime = r.EndTime.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.Exec(
		`INSERT INTO recordings (`+recordingColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.CameraID, r.StartTime.UTC().Format(time.RFC3339Nano), r.AdjustedStartTime.UTC().Format(time.RFC3339Nano),
		endTime, r.TriggerType, r.TriggerID, r.ThumbnailPath, r.ClipPath,
		r.CreatedAt.Format(time.RFC3339Nano), r.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to create recording %s: %v", r.ID, err)
	}
	return nil
}

func (s *SQLiteDB) CloseRecording(id string, endTime time.Time) error {
	_, err := s.db.Exec(`UPDATE recordings SET end_time=?, updated_at=? WHERE id=?`,
		endTime.UTC().Format(time.RFC3339Nano), time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to close recording %s: %v", id, err)
	}
	return nil
}

func (s *SQLiteDB) SetRecordingClipPath(id, clipPath string) error {
	_, err := s.db.Exec(`UPDATE recordings SET clip_path=?, updated_at=? WHERE id=?`,
		clipPath, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to set clip path for recording %s: %v", id, err)
	}
	return nil
}

func (s *SQLiteDB) SetRecordingThumbnailPath(id, thumbnailPath string) error {
	_, err := s.db.Exec(`UPDATE recordings SET thumbnail_path=?, updated_at=? WHERE id=?`,
		thumbnailPath, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to set thumbnail path for recording %s: %v", id, err)
	}
	return nil
}

func (s *SQLiteDB) DeleteRecording(id string) error {
	_, err := s.db.Exec(`DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete recording %s: %v", id, err)
	}
	return nil
}

func (s *SQLiteDB) GetRecording(id string) (*Recording, error) {
	row := s.db.QueryRow(`SELECT `+recordingColumns+` FROM recordings WHERE id = ?`, id)
	r, err := scanRecording(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recording %s: %v", id, err)
	}
	return &r, nil
}

func (s *SQLiteDB) GetActiveRecording(cameraID string) (*Recording, error) {
	row := s.db.QueryRow(
		`SELECT `+recordingColumns+` FROM recordings WHERE camera_identifier=? AND end_time IS NULL ORDER BY start_time DESC LIMIT 1`,
		cameraID,
	)
	r, err := scanRecording(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active recording for %s: %v", cameraID, err)
	}
	return &r, nil
}

func (s *SQLiteDB) ListRecordingsInWindow(cameraID string, from, to time.Time) ([]Recording, error) {
	rows, err := s.db.Query(
		`SELECT `+recordingColumns+` FROM recordings
		 WHERE camera_identifier=? AND adjusted_start_time <= ? AND (end_time IS NULL OR end_time >= ?)
		 ORDER BY start_time ASC`,
		cameraID, to.UTC().Format(time.RFC3339Nano), from.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings in window for %s: %v", cameraID, err)
	}
	defer rows.Close()
	return scanRecordings(rows)
}

func (s *SQLiteDB) ListRecordingsByCamera(cameraID string, limit int) ([]Recording, error) {
	if limit <= 0 {
		limit = -1 // SQLite treats a negative LIMIT as no limit
	}
	rows, err := s.db.Query(
		`SELECT `+recordingColumns+` FROM recordings WHERE camera_identifier=? ORDER BY start_time DESC LIMIT ?`,
		cameraID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings for %s: %v", cameraID, err)
	}
	defer rows.Close()
	return scanRecordings(rows)
}

func scanRecordings(rows *sql.Rows) ([]Recording, error) {
	var out []Recording
	for rows.Next() {
		r, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recording row: %v", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteDB) GetSystemConfig(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM system_config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get system config %s: %v", key, err)
	}
	return value, nil
}

func (s *SQLiteDB) SetSystemConfig(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO system_config (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to set system config %s: %v", key, err)
	}
	return nil
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// DBPath returns the directory containing the database file, used by
// callers that need to colocate sidecar files (e.g. WAL checkpoints).
func DBPath(path string) string {
	return filepath.Dir(path)
}
