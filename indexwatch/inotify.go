package indexwatch

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// inotifyWatcher is the primary backend, adopted from Spatial-NVR's
// internal/config/config.go fsnotify reload-watch (write-event + sleep
// debounce pattern) and generalized to Create/Write/Remove/Rename across
// an entire directory tree instead of a single config file.
type inotifyWatcher struct {
	fsw      *fsnotify.Watcher
	root     string
	debounce *debouncer
	hints    *hintCache
}

func newInotifyWatcher(root string, debounceWindow time.Duration) (*inotifyWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &inotifyWatcher{
		fsw:      fsw,
		root:     root,
		debounce: newDebouncer(debounceWindow),
		hints:    newHintCache(),
	}

	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to add watches under %s: %v", root, err)
	}

	return w, nil
}

func (w *inotifyWatcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}

func (w *inotifyWatcher) Watch(events chan<- Event) error {
	go func() {
		for {
			select {
			case ev, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				w.handle(ev, events)
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				log.Printf("[indexwatch] watcher error under %s: %v", w.root, err)
			}
		}
	}()
	return nil
}

func (w *inotifyWatcher) handle(ev fsnotify.Event, out chan<- Event) {
	if isHidden(ev.Name) {
		return
	}

	switch {
	case ev.Op&fsnotify.Create == fsnotify.Create:
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			_ = w.fsw.Add(ev.Name)
			return
		}
		out <- Event{Kind: Created, Path: ev.Name, Size: statSize(ev.Name), OrigCTime: w.hints.takeOrNow(ev.Name)}

	case ev.Op&fsnotify.Write == fsnotify.Write:
		path := ev.Name
		w.debounce.schedule(path, func() {
			out <- Event{Kind: Modified, Path: path, Size: statSize(path)}
		})

	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		out <- Event{Kind: Deleted, Path: ev.Name}
	}
}

func (w *inotifyWatcher) Hint(path string, origCTime time.Time) {
	w.hints.set(path, origCTime)
}

func (w *inotifyWatcher) Close() error {
	err := w.fsw.Close()
	logClose(w.root, err)
	return err
}
