package tier

import (
	"time"

	"nvr-core/database"
)

// fakeDB is a minimal in-memory database.Database stand-in, grounded on the
// same table-driven-fake style as the teacher's recording package tests.
type fakeDB struct {
	files        map[string]database.File
	recordings   map[string]database.Recording
	systemConfig map[string]string
	moved        []string // "old->new" path pairs, in call order
	deleted      []string
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		files:        map[string]database.File{},
		recordings:   map[string]database.Recording{},
		systemConfig: map[string]string{},
	}
}

func (d *fakeDB) CreateFile(f database.File) error { d.files[f.Path] = f; return nil }
func (d *fakeDB) UpdateFileDuration(path string, duration float64) error {
	f := d.files[path]
	f.Duration = &duration
	d.files[path] = f
	return nil
}
func (d *fakeDB) MoveFile(oldPath string, f database.File) error {
	delete(d.files, oldPath)
	d.files[f.Path] = f
	d.moved = append(d.moved, oldPath+"->"+f.Path)
	return nil
}
func (d *fakeDB) DeleteFile(path string) error {
	delete(d.files, path)
	d.deleted = append(d.deleted, path)
	return nil
}
func (d *fakeDB) GetFile(path string) (*database.File, error) {
	f, ok := d.files[path]
	if !ok {
		return nil, nil
	}
	return &f, nil
}
func (d *fakeDB) ListFilesByCameraTier(cameraID string, tierID int, category database.Category, subcategory database.Subcategory) ([]database.File, error) {
	var out []database.File
	for _, f := range d.files {
		if f.CameraID == cameraID && f.TierID == tierID && f.Category == category && f.Subcategory == subcategory {
			out = append(out, f)
		}
	}
	sortFilesByOrigCTime(out)
	return out, nil
}
func (d *fakeDB) ListFilesInWindow(string, time.Time, time.Time) ([]database.File, error) { return nil, nil }
func (d *fakeDB) ListFilesByRecording(recordingID string) ([]database.File, error) {
	var out []database.File
	for _, f := range d.files {
		if f.RecordingID == recordingID {
			out = append(out, f)
		}
	}
	sortFilesByOrigCTime(out)
	return out, nil
}

func (d *fakeDB) CreateRecording(r database.Recording) error { d.recordings[r.ID] = r; return nil }
func (d *fakeDB) CloseRecording(id string, endTime time.Time) error {
	r := d.recordings[id]
	r.EndTime = &endTime
	d.recordings[id] = r
	return nil
}
func (d *fakeDB) SetRecordingClipPath(id, clipPath string) error {
	r := d.recordings[id]
	r.ClipPath = clipPath
	d.recordings[id] = r
	return nil
}
func (d *fakeDB) SetRecordingThumbnailPath(id, thumbnailPath string) error {
	r := d.recordings[id]
	r.ThumbnailPath = thumbnailPath
	d.recordings[id] = r
	return nil
}
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
func (d *fakeDB) ListRecordingsByCamera(cameraID string, limit int) ([]database.Recording, error) {
	var out []database.Recording
	for _, r := range d.recordings {
		if r.CameraID == cameraID {
			out = append(out, r)
		}
	}
	return out, nil
}
func (d *fakeDB) DeleteRecording(id string) error { delete(d.recordings, id); return nil }

func (d *fakeDB) GetSystemConfig(key string) (string, error) { return d.systemConfig[key], nil }
func (d *fakeDB) SetSystemConfig(key, value string) error    { d.systemConfig[key] = value; return nil }
func (d *fakeDB) Close() error                               { return nil }

func sortFilesByOrigCTime(files []database.File) {
	for i := 1; i < len(files); i++ {
		for j := i; j > 0 && files[j].OrigCTime.Before(files[j-1].OrigCTime); j-- {
			files[j], files[j-1] = files[j-1], files[j]
		}
	}
}
