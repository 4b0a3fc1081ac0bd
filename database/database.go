// Package database is the Segment Index (spec C5): the relational catalog
// of every file on disk plus the Recordings/Events tables the NVR state
// machine and HLS assembler read from.
package database

import "time"

// Category mirrors the filesystem layout's top-level split.
type Category string

const (
	CategoryRecorder   Category = "recorder"
	CategorySnapshots  Category = "snapshots"
)

// Subcategory mirrors the filesystem layout's second level.
type Subcategory string

const (
	SubcategorySegments   Subcategory = "segments"
	SubcategoryEventClips Subcategory = "event_clips"
	SubcategoryThumbnails Subcategory = "thumbnails"
)

// TriggerType is the reason a Recording started.
type TriggerType string

const (
	TriggerObject TriggerType = "object"
	TriggerMotion TriggerType = "motion"
	TriggerManual TriggerType = "manual"
)

// File is one row of the Files table: a fragment (or, transiently, the
// closed source .mp4 before fragmentation) on disk at a given tier.
type File struct {
	ID            string
	TierID        int
	TierPath      string // tier root at row-creation time, to detect config drift
	CameraID      string
	Category      Category
	Subcategory   Subcategory
	Path          string // unique
	Directory     string
	Filename      string
	Size          int64
	OrigCTime     time.Time // original wall-clock capture time of the fragment's first frame
	Duration      *float64  // nil until the Fragmenter sets it
	RecordingID   string    // "" if not part of an event recording (continuous only)
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Recording is one row of the Recordings table: a logical event interval.
type Recording struct {
	ID                string
	CameraID          string
	StartTime         time.Time
	AdjustedStartTime time.Time // start_time - segment_length - lookback, precomputed
	EndTime           *time.Time
	TriggerType       TriggerType
	TriggerID         string
	ThumbnailPath     string
	ClipPath          string // "" until materialized
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Database is the Segment Index's storage interface. The teacher's
// Database interface (database/database.go in ayo-mwr) is the shape this
// follows: a single façade over sqlite with explicit per-entity methods
// rather than a generic ORM-style repository.
type Database interface {
	// Files (fragments)
	CreateFile(f File) error
	UpdateFileDuration(path string, duration float64) error
	MoveFile(oldPath string, f File) error
	DeleteFile(path string) error
	GetFile(path string) (*File, error)
	ListFilesByCameraTier(cameraID string, tierID int, category Category, subcategory Subcategory) ([]File, error)
	ListFilesInWindow(cameraID string, from, to time.Time) ([]File, error)
	ListFilesByRecording(recordingID string) ([]File, error)

	// Recordings (events)
	CreateRecording(r Recording) error
	CloseRecording(id string, endTime time.Time) error
	SetRecordingClipPath(id, clipPath string) error
	SetRecordingThumbnailPath(id, thumbnailPath string) error
	GetRecording(id string) (*Recording, error)
	GetActiveRecording(cameraID string) (*Recording, error)
	ListRecordingsInWindow(cameraID string, from, to time.Time) ([]Recording, error)
	ListRecordingsByCamera(cameraID string, limit int) ([]Recording, error)
	DeleteRecording(id string) error

	// System config (JSON blobs, teacher's config/chunk_config.go shape)
	GetSystemConfig(key string) (string, error)
	SetSystemConfig(key, value string) error

	Close() error
}
