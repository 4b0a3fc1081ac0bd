package indexwatch

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"nvr-core/bus"
	"nvr-core/database"
)

func newTestIndexer(t *testing.T) (*Indexer, database.Database, string) {
	t.Helper()
	root := t.TempDir()

	db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("NewSQLiteDB() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	b, err := bus.New(bus.Config{})
	if err != nil {
		t.Fatalf("bus.New() error = %v", err)
	}
	t.Cleanup(b.Stop)

	parser := DefaultPathParser(map[int]string{0: root})
	ix := NewIndexer(db, b, parser)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go ix.Run(ctx)

	return ix, db, root
}

func TestIndexerCreateIsIdempotentPerPath(t *testing.T) {
	ix, db, root := newTestIndexer(t)
	path := filepath.Join(root, "recorder", "segments", "front-door", "0001.mp4")

	ix.Feed() <- Event{Kind: Created, Path: path, Size: 1024}
	ix.Feed() <- Event{Kind: Created, Path: path, Size: 1024}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if f, _ := db.GetFile(path); f != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	f, err := db.GetFile(path)
	if err != nil {
		t.Fatalf("GetFile() error = %v", err)
	}
	if f == nil {
		t.Fatalf("GetFile() = nil, want indexed row")
	}
	if f.CameraID != "front-door" {
		t.Fatalf("CameraID = %q, want front-door", f.CameraID)
	}
}

func TestIndexerDeleteRemovesRow(t *testing.T) {
	ix, db, root := newTestIndexer(t)
	path := filepath.Join(root, "recorder", "segments", "front-door", "0002.mp4")

	ix.Feed() <- Event{Kind: Created, Path: path, Size: 512}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if f, _ := db.GetFile(path); f != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	ix.Feed() <- Event{Kind: Deleted, Path: path}
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if f, _ := db.GetFile(path); f == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("file row still present after Deleted event")
}

func TestIndexerIgnoresPathOutsideTierRoots(t *testing.T) {
	ix, db, _ := newTestIndexer(t)
	path := "/somewhere/else/0001.mp4"

	ix.Feed() <- Event{Kind: Created, Path: path, Size: 10}
	time.Sleep(100 * time.Millisecond)

	if f, _ := db.GetFile(path); f != nil {
		t.Fatalf("GetFile() = %+v, want nil for path outside any configured tier root", f)
	}
}
