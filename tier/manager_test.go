package tier

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"nvr-core/config"
	"nvr-core/database"
)

func newTestManager(t *testing.T, tiers []config.TierConfig) (*Manager, *fakeDB) {
	t.Helper()
	db := newFakeDB()
	m := New(db, nil, &config.Manifest{
		Cameras: []config.CameraConfig{{ID: "cam1"}},
		Tiers:   tiers,
	})
	return m, db
}

func TestSweepCameraTierMovesEligibleContinuousFragment(t *testing.T) {
	tier0Root := t.TempDir()
	tier1Root := t.TempDir()
	tiers := []config.TierConfig{
		{ID: 0, Root: tier0Root, BatchSize: 100, Continuous: config.RetentionPolicy{MaxBytes: 10}},
		{ID: 1, Root: tier1Root},
	}
	m, db := newTestManager(t, tiers)

	srcPath := filepath.Join(tier0Root, "seg1.m4s")
	if err := os.WriteFile(srcPath, []byte("0123456789abcdef"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	f := database.File{
		Path: srcPath, Filename: "seg1.m4s", CameraID: "cam1",
		Category: database.CategoryRecorder, Subcategory: database.SubcategorySegments,
		TierID: 0, OrigCTime: time.Now().Add(-time.Hour), Size: 16,
	}
	db.files[srcPath] = f

	if err := m.SweepCameraTier("cam1", 0); err != nil {
		t.Fatalf("SweepCameraTier() error = %v", err)
	}

	if len(db.moved) != 1 {
		t.Fatalf("expected 1 file moved, got %d (%v)", len(db.moved), db.moved)
	}
	if _, err := os.Stat(srcPath); !os.IsNotExist(err) {
		t.Fatalf("expected source removed after move")
	}
}

func TestSweepCameraTierThrottlesRepeatedCalls(t *testing.T) {
	tiers := []config.TierConfig{{ID: 0, Root: t.TempDir()}}
	m, _ := newTestManager(t, tiers)

	if err := m.SweepCameraTier("cam1", 0); err != nil {
		t.Fatalf("first sweep error = %v", err)
	}
	if m.allowRun("cam1.0") {
		t.Fatalf("expected second call within throttle window to be suppressed")
	}
}

func TestSweepAllRunsEveryCameraTierPair(t *testing.T) {
	tiers := []config.TierConfig{{ID: 0, Root: t.TempDir()}, {ID: 1, Root: t.TempDir()}}
	m, _ := newTestManager(t, tiers)

	if err := m.SweepAll(context.Background()); err != nil {
		t.Fatalf("SweepAll() error = %v", err)
	}
}

func TestPruneRecordingWithNoSurvivingFragmentsDeletesRow(t *testing.T) {
	tiers := []config.TierConfig{{ID: 0, Root: t.TempDir()}}
	m, db := newTestManager(t, tiers)

	end := time.Now()
	db.recordings["r1"] = database.Recording{ID: "r1", CameraID: "cam1", EndTime: &end}

	if err := m.sweepSlavedAssets("cam1"); err != nil {
		t.Fatalf("sweepSlavedAssets() error = %v", err)
	}
	if _, ok := db.recordings["r1"]; ok {
		t.Fatalf("expected recording with no surviving fragments to be pruned")
	}
}

func TestAdvanceSlavedAssetMovesThumbnailWhenFragmentsAdvanced(t *testing.T) {
	tier0Root := t.TempDir()
	tier1Root := t.TempDir()
	tiers := []config.TierConfig{{ID: 0, Root: tier0Root}, {ID: 1, Root: tier1Root}}
	m, db := newTestManager(t, tiers)

	thumbPath := filepath.Join(tier0Root, string(database.CategoryRecorder), string(database.SubcategoryThumbnails), "cam1", "r1.jpg")
	if err := os.MkdirAll(filepath.Dir(thumbPath), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(thumbPath, []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	db.recordings["r1"] = database.Recording{ID: "r1", CameraID: "cam1", ThumbnailPath: thumbPath}
	db.files["seg1"] = database.File{Path: "seg1", RecordingID: "r1", TierID: 1, CameraID: "cam1"}

	if err := m.sweepSlavedAssets("cam1"); err != nil {
		t.Fatalf("sweepSlavedAssets() error = %v", err)
	}

	r := db.recordings["r1"]
	if r.ThumbnailPath == thumbPath {
		t.Fatalf("expected thumbnail path updated to tier 1 location")
	}
	if _, err := os.Stat(r.ThumbnailPath); err != nil {
		t.Fatalf("expected thumbnail present at new path: %v", err)
	}
}
