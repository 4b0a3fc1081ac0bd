package indexwatch

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"nvr-core/bus"
	"nvr-core/database"
)

// PathParser turns an absolute file path into the tier/camera/category/
// subcategory it belongs to. Supplied by the caller (camera/tier wiring)
// since the mapping depends on configured tier roots, not on indexwatch
// itself.
type PathParser func(path string) (tierID int, tierPath, cameraID string, category database.Category, subcategory database.Subcategory, ok bool)

// Indexer is the single serialized Segment Index writer spec.md §5
// requires: every watcher's events funnel through one goroutine so row
// creation/update/deletion never races across watchers.
type Indexer struct {
	db     database.Database
	bus    *bus.Bus
	parse  PathParser
	events chan Event
}

// NewIndexer builds an Indexer. Call Run to start draining.
func NewIndexer(db database.Database, b *bus.Bus, parse PathParser) *Indexer {
	return &Indexer{db: db, bus: b, parse: parse, events: make(chan Event, 256)}
}

// Feed is handed to each Watcher's Watch call so every backend's events
// land on this Indexer's single channel.
func (ix *Indexer) Feed() chan<- Event {
	return ix.events
}

// Run drains the event channel until ctx is cancelled. Intended to run in
// its own goroutine for the lifetime of the process.
func (ix *Indexer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ix.events:
			ix.apply(ev)
		}
	}
}

func (ix *Indexer) apply(ev Event) {
	tierID, tierPath, cameraID, category, subcategory, ok := ix.parse(ev.Path)
	if !ok {
		return // path outside any configured tier root, ignore
	}

	switch ev.Kind {
	case Created:
		f := database.File{
			ID:          fmt.Sprintf("%s:%s", cameraID, ev.Path),
			TierID:      tierID,
			TierPath:    tierPath,
			CameraID:    cameraID,
			Category:    category,
			Subcategory: subcategory,
			Path:        ev.Path,
			Directory:   filepath.Dir(ev.Path),
			Filename:    filepath.Base(ev.Path),
			Size:        ev.Size,
			OrigCTime:   ev.OrigCTime,
		}
		// CreateFile is ON CONFLICT(path) DO NOTHING, making this idempotent
		// per path as spec.md §4.5 requires.
		if err := ix.db.CreateFile(f); err != nil {
			log.Printf("[indexwatch] failed to index created file %s: %v", ev.Path, err)
			return
		}
		_ = ix.bus.Publish(bus.FileCreatedSubject, bus.FileEvent{
			CameraID: cameraID, Category: string(category), Subcategory: string(subcategory),
			FileName: filepath.Base(ev.Path), Path: ev.Path,
		})

	case Modified:
		existing, err := ix.db.GetFile(ev.Path)
		if err != nil || existing == nil {
			return
		}
		// Size changes alone don't imply a duration change; the Fragmenter
		// is the sole writer of duration (spec.md §9 Open Question 1).
		// Nothing else to update here beyond what CreateFile/MoveFile track,
		// so a bare Modified event is a no-op against the index today.
		_ = existing

	case Deleted:
		if err := ix.db.DeleteFile(ev.Path); err != nil {
			log.Printf("[indexwatch] failed to remove deleted file %s from index: %v", ev.Path, err)
			return
		}
		_ = ix.bus.Publish(bus.FileDeletedSubject, bus.FileEvent{
			CameraID: cameraID, Category: string(category), Subcategory: string(subcategory),
			FileName: filepath.Base(ev.Path), Path: ev.Path,
		})
	}
}

// DefaultPathParser builds a PathParser from the configured tier roots,
// assuming the layout the Fragmenter and Tier Manager write:
// <tier_root>/<category>/<subcategory>/<camera_identifier>/<filename>.
func DefaultPathParser(tierRoots map[int]string) PathParser {
	return func(path string) (int, string, string, database.Category, database.Subcategory, bool) {
		for tierID, root := range tierRoots {
			rel, err := filepath.Rel(root, path)
			if err != nil || strings.HasPrefix(rel, "..") {
				continue
			}
			parts := strings.Split(filepath.ToSlash(rel), "/")
			if len(parts) < 4 {
				continue
			}
			return tierID, root, parts[2], database.Category(parts[0]), database.Subcategory(parts[1]), true
		}
		return 0, "", "", "", "", false
	}
}
