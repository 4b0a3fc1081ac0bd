package hls

import (
	"strings"
	"testing"
	"time"

	"nvr-core/database"
)

type fakeDB struct {
	files      []database.File
	recordings map[string]database.Recording
}

func (d *fakeDB) CreateFile(database.File) error                 { return nil }
func (d *fakeDB) UpdateFileDuration(string, float64) error        { return nil }
func (d *fakeDB) MoveFile(string, database.File) error            { return nil }
func (d *fakeDB) DeleteFile(string) error                         { return nil }
func (d *fakeDB) GetFile(string) (*database.File, error)          { return nil, nil }
func (d *fakeDB) ListFilesByCameraTier(string, int, database.Category, database.Subcategory) ([]database.File, error) {
	return nil, nil
}
func (d *fakeDB) ListFilesInWindow(cameraID string, from, to time.Time) ([]database.File, error) {
	var out []database.File
	for _, f := range d.files {
		if f.CameraID == cameraID {
			out = append(out, f)
		}
	}
	return out, nil
}
func (d *fakeDB) ListFilesByRecording(recordingID string) ([]database.File, error) {
	var out []database.File
	for _, f := range d.files {
		if f.RecordingID == recordingID {
			out = append(out, f)
		}
	}
	return out, nil
}
func (d *fakeDB) CreateRecording(database.Recording) error         { return nil }
func (d *fakeDB) CloseRecording(string, time.Time) error           { return nil }
func (d *fakeDB) SetRecordingClipPath(string, string) error        { return nil }
func (d *fakeDB) SetRecordingThumbnailPath(string, string) error   { return nil }
func (d *fakeDB) GetRecording(id string) (*database.Recording, error) {
	r, ok := d.recordings[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}
func (d *fakeDB) GetActiveRecording(string) (*database.Recording, error) { return nil, nil }
func (d *fakeDB) ListRecordingsInWindow(string, time.Time, time.Time) ([]database.Recording, error) {
	return nil, nil
}
func (d *fakeDB) ListRecordingsByCamera(string, int) ([]database.Recording, error) { return nil, nil }
func (d *fakeDB) DeleteRecording(string) error                                     { return nil }
func (d *fakeDB) GetSystemConfig(string) (string, error)                          { return "", nil }
func (d *fakeDB) SetSystemConfig(string, string) error                            { return nil }
func (d *fakeDB) Close() error                                                    { return nil }

func dur(seconds float64) *float64 { return &seconds }

func testRoutes() Routes {
	return Routes{
		Init:     func(cam string) string { return "/init/" + cam + ".mp4" },
		Fragment: func(f database.File) string { return "/frag/" + f.Filename },
	}
}

func TestWindowDedupesByFilenamePreferringLatestCreatedAt(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	db := &fakeDB{files: []database.File{
		{CameraID: "cam1", Filename: "a.m4s", OrigCTime: base, CreatedAt: base, Duration: dur(2), Path: "old"},
		{CameraID: "cam1", Filename: "a.m4s", OrigCTime: base, CreatedAt: base.Add(time.Minute), Duration: dur(2), Path: "new"},
	}}

	m3u8, err := Window(db, "cam1", base.Add(-time.Hour), base.Add(time.Hour), testRoutes())
	if err != nil {
		t.Fatalf("Window() error = %v", err)
	}
	if strings.Count(m3u8, "#EXTINF") != 1 {
		t.Fatalf("expected exactly one fragment entry after dedup, got playlist:\n%s", m3u8)
	}
}

func TestWindowNeverEmitsEndlist(t *testing.T) {
	base := time.Now()
	db := &fakeDB{files: []database.File{
		{CameraID: "cam1", Filename: "a.m4s", OrigCTime: base, CreatedAt: base, Duration: dur(2)},
	}}

	m3u8, err := Window(db, "cam1", base.Add(-time.Hour), base.Add(time.Hour), testRoutes())
	if err != nil {
		t.Fatalf("Window() error = %v", err)
	}
	if strings.Contains(m3u8, "#EXT-X-ENDLIST") {
		t.Fatalf("window playlist should never emit ENDLIST, got:\n%s", m3u8)
	}
}

func TestRecordingEmitsEndlistWhenClosed(t *testing.T) {
	base := time.Now()
	end := base.Add(30 * time.Second)
	db := &fakeDB{
		recordings: map[string]database.Recording{
			"r1": {ID: "r1", CameraID: "cam1", EndTime: &end},
		},
		files: []database.File{
			{RecordingID: "r1", CameraID: "cam1", Filename: "a.m4s", OrigCTime: base, CreatedAt: base, Duration: dur(2)},
		},
	}

	m3u8, found, err := Recording(db, "r1", base, testRoutes())
	if err != nil {
		t.Fatalf("Recording() error = %v", err)
	}
	if !found {
		t.Fatalf("expected recording to be found")
	}
	if !strings.Contains(m3u8, "#EXT-X-ENDLIST") {
		t.Fatalf("expected ENDLIST for closed recording, got:\n%s", m3u8)
	}
}

func TestRecordingOmitsEndlistWhileOpen(t *testing.T) {
	base := time.Now()
	db := &fakeDB{
		recordings: map[string]database.Recording{
			"r1": {ID: "r1", CameraID: "cam1"},
		},
		files: []database.File{
			{RecordingID: "r1", CameraID: "cam1", Filename: "a.m4s", OrigCTime: base, CreatedAt: base, Duration: dur(2)},
		},
	}

	m3u8, found, err := Recording(db, "r1", base, testRoutes())
	if err != nil {
		t.Fatalf("Recording() error = %v", err)
	}
	if !found {
		t.Fatalf("expected recording to be found")
	}
	if strings.Contains(m3u8, "#EXT-X-ENDLIST") {
		t.Fatalf("in-progress recording must not have ENDLIST, got:\n%s", m3u8)
	}
}

func TestRecordingNotFoundReturnsFalse(t *testing.T) {
	db := &fakeDB{recordings: map[string]database.Recording{}}
	_, found, err := Recording(db, "missing", time.Now(), testRoutes())
	if err != nil {
		t.Fatalf("Recording() error = %v", err)
	}
	if found {
		t.Fatalf("expected found = false for nonexistent recording")
	}
}

func TestBuildSynthesizesGapSegment(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	db := &fakeDB{files: []database.File{
		{CameraID: "cam1", Filename: "a.m4s", OrigCTime: base, CreatedAt: base, Duration: dur(2)},
		// gap: next fragment starts 10s after the first ends (base+2s), well past epsilon
		{CameraID: "cam1", Filename: "b.m4s", OrigCTime: base.Add(12 * time.Second), CreatedAt: base, Duration: dur(2)},
	}}

	m3u8, err := Window(db, "cam1", base.Add(-time.Hour), base.Add(time.Hour), testRoutes())
	if err != nil {
		t.Fatalf("Window() error = %v", err)
	}
	if !strings.Contains(m3u8, "#EXT-X-GAP") {
		t.Fatalf("expected a synthesized gap segment, got:\n%s", m3u8)
	}
	gapIdx := strings.Index(m3u8, "#EXT-X-GAP")
	rest := m3u8[gapIdx:]
	if !strings.HasPrefix(rest, "#EXT-X-GAP\n#EXTINF:") {
		t.Fatalf("expected #EXT-X-GAP immediately followed by #EXTINF, got:\n%s", rest)
	}
}

func TestBuildNoGapForContiguousFragments(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	db := &fakeDB{files: []database.File{
		{CameraID: "cam1", Filename: "a.m4s", OrigCTime: base, CreatedAt: base, Duration: dur(2)},
		{CameraID: "cam1", Filename: "b.m4s", OrigCTime: base.Add(2 * time.Second), CreatedAt: base, Duration: dur(2)},
	}}

	m3u8, err := Window(db, "cam1", base.Add(-time.Hour), base.Add(time.Hour), testRoutes())
	if err != nil {
		t.Fatalf("Window() error = %v", err)
	}
	if strings.Contains(m3u8, "#EXT-X-GAP") {
		t.Fatalf("did not expect a gap for back-to-back fragments, got:\n%s", m3u8)
	}
}

func TestBuildIncludesInitMapAndTargetDuration(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	db := &fakeDB{files: []database.File{
		{CameraID: "cam1", Filename: "a.m4s", OrigCTime: base, CreatedAt: base, Duration: dur(4.2)},
	}}

	m3u8, err := Window(db, "cam1", base.Add(-time.Hour), base.Add(time.Hour), testRoutes())
	if err != nil {
		t.Fatalf("Window() error = %v", err)
	}
	if !strings.Contains(m3u8, `#EXT-X-MAP:URI="/init/cam1.mp4"`) {
		t.Fatalf("expected init map entry, got:\n%s", m3u8)
	}
	if !strings.Contains(m3u8, "#EXT-X-TARGETDURATION:5") {
		t.Fatalf("expected target duration ceil(4.2)=5, got:\n%s", m3u8)
	}
}
