package database

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *SQLiteDB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	db, err := NewSQLiteDB(path)
	if err != nil {
		t.Fatalf("NewSQLiteDB() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateAndGetFile(t *testing.T) {
	db := newTestDB(t)

	f := File{
		ID:          "f1",
		TierID:      1,
		TierPath:    "/data/tier0",
		CameraID:    "front-door",
		Category:    CategoryRecorder,
		Subcategory: SubcategorySegments,
		Path:        "/data/tier0/front-door/recorder/segments/0001.mp4",
		Directory:   "/data/tier0/front-door/recorder/segments",
		Filename:    "0001.mp4",
		Size:        1024,
		OrigCTime:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := db.CreateFile(f); err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}

	got, err := db.GetFile(f.Path)
	if err != nil {
		t.Fatalf("GetFile() error = %v", err)
	}
	if got == nil {
		t.Fatalf("GetFile() = nil, want row")
	}
	if got.ID != f.ID || got.CameraID != f.CameraID || got.Size != f.Size {
		t.Fatalf("GetFile() = %+v, want matching %+v", got, f)
	}
	if got.Duration != nil {
		t.Fatalf("Duration = %v, want nil before fragmenter sets it", *got.Duration)
	}
}

func TestUpdateFileDuration(t *testing.T) {
	db := newTestDB(t)
	f := File{ID: "f1", TierID: 1, TierPath: "/t0", CameraID: "c1",
		Category: CategoryRecorder, Subcategory: SubcategorySegments,
		Path: "/t0/c1/seg/0001.mp4", Directory: "/t0/c1/seg", Filename: "0001.mp4",
		OrigCTime: time.Now()}
	if err := db.CreateFile(f); err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}
	if err := db.UpdateFileDuration(f.Path, 9.92); err != nil {
		t.Fatalf("UpdateFileDuration() error = %v", err)
	}
	got, err := db.GetFile(f.Path)
	if err != nil {
		t.Fatalf("GetFile() error = %v", err)
	}
	if got.Duration == nil || *got.Duration != 9.92 {
		t.Fatalf("Duration = %v, want 9.92", got.Duration)
	}
}

func TestMoveFile(t *testing.T) {
	db := newTestDB(t)
	f := File{ID: "f1", TierID: 0, TierPath: "/t0", CameraID: "c1",
		Category: CategoryRecorder, Subcategory: SubcategorySegments,
		Path: "/t0/c1/seg/0001.mp4", Directory: "/t0/c1/seg", Filename: "0001.mp4",
		OrigCTime: time.Now()}
	if err := db.CreateFile(f); err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}

	moved := f
	moved.TierID = 1
	moved.TierPath = "/t1"
	moved.Path = "/t1/c1/seg/0001.mp4"
	moved.Directory = "/t1/c1/seg"

	if err := db.MoveFile(f.Path, moved); err != nil {
		t.Fatalf("MoveFile() error = %v", err)
	}

	if got, _ := db.GetFile(f.Path); got != nil {
		t.Fatalf("GetFile(oldPath) = %+v, want nil after move", got)
	}
	got, err := db.GetFile(moved.Path)
	if err != nil {
		t.Fatalf("GetFile(newPath) error = %v", err)
	}
	if got == nil || got.TierID != 1 {
		t.Fatalf("GetFile(newPath) = %+v, want tier_id=1", got)
	}
}

func TestListFilesInWindow(t *testing.T) {
	db := newTestDB(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	dur := 10.0

	for i, start := range []time.Time{
		base,
		base.Add(10 * time.Second),
		base.Add(20 * time.Second),
		base.Add(60 * time.Second),
	} {
		f := File{
			ID: "f" + string(rune('0'+i)), TierID: 0, TierPath: "/t0", CameraID: "c1",
			Category: CategoryRecorder, Subcategory: SubcategorySegments,
			Path: "/t0/c1/seg/" + string(rune('0'+i)) + ".mp4", Directory: "/t0/c1/seg",
			Filename: string(rune('0'+i)) + ".mp4", OrigCTime: start, Duration: &dur,
		}
		if err := db.CreateFile(f); err != nil {
			t.Fatalf("CreateFile(%d) error = %v", i, err)
		}
	}

	got, err := db.ListFilesInWindow("c1", base.Add(5*time.Second), base.Add(25*time.Second))
	if err != nil {
		t.Fatalf("ListFilesInWindow() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ListFilesInWindow() returned %d files, want 3 (0s, 10s, 20s fragments overlap window)", len(got))
	}
}

func TestRecordingLifecycle(t *testing.T) {
	db := newTestDB(t)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	r := Recording{
		ID:                "r1",
		CameraID:          "c1",
		StartTime:         start,
		AdjustedStartTime: start.Add(-12 * time.Second),
		TriggerType:       TriggerObject,
		TriggerID:         "person",
	}
	if err := db.CreateRecording(r); err != nil {
		t.Fatalf("CreateRecording() error = %v", err)
	}

	active, err := db.GetActiveRecording("c1")
	if err != nil {
		t.Fatalf("GetActiveRecording() error = %v", err)
	}
	if active == nil || active.ID != "r1" {
		t.Fatalf("GetActiveRecording() = %+v, want r1 open", active)
	}

	end := start.Add(5 * time.Second)
	if err := db.CloseRecording("r1", end); err != nil {
		t.Fatalf("CloseRecording() error = %v", err)
	}

	if active, err := db.GetActiveRecording("c1"); err != nil {
		t.Fatalf("GetActiveRecording() error = %v", err)
	} else if active != nil {
		t.Fatalf("GetActiveRecording() = %+v, want nil after close", active)
	}

	got, err := db.GetRecording("r1")
	if err != nil {
		t.Fatalf("GetRecording() error = %v", err)
	}
	if got.EndTime == nil || !got.EndTime.Equal(end) {
		t.Fatalf("EndTime = %v, want %v", got.EndTime, end)
	}

	if err := db.SetRecordingClipPath("r1", "/t0/c1/event_clips/r1.mp4"); err != nil {
		t.Fatalf("SetRecordingClipPath() error = %v", err)
	}
	got, _ = db.GetRecording("r1")
	if got.ClipPath != "/t0/c1/event_clips/r1.mp4" {
		t.Fatalf("ClipPath = %q, want set path", got.ClipPath)
	}
}

func TestSystemConfigRoundTrip(t *testing.T) {
	db := newTestDB(t)
	if v, err := db.GetSystemConfig("tier_thresholds"); err != nil || v != "" {
		t.Fatalf("GetSystemConfig() on missing key = (%q, %v), want (\"\", nil)", v, err)
	}
	if err := db.SetSystemConfig("tier_thresholds", `{"max_bytes":1000}`); err != nil {
		t.Fatalf("SetSystemConfig() error = %v", err)
	}
	v, err := db.GetSystemConfig("tier_thresholds")
	if err != nil {
		t.Fatalf("GetSystemConfig() error = %v", err)
	}
	if v != `{"max_bytes":1000}` {
		t.Fatalf("GetSystemConfig() = %q, want the stored JSON blob", v)
	}
	if err := db.SetSystemConfig("tier_thresholds", `{"max_bytes":2000}`); err != nil {
		t.Fatalf("SetSystemConfig() overwrite error = %v", err)
	}
	if v, _ := db.GetSystemConfig("tier_thresholds"); v != `{"max_bytes":2000}` {
		t.Fatalf("GetSystemConfig() after overwrite = %q, want updated blob", v)
	}
}
