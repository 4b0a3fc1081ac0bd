// Package indexwatch is the filesystem watcher contract feeding the
// Segment Index writer (spec.md §4.5): created/modified/deleted events per
// watched path, with a 1s debounce on modified and a hint cache (entries
// kept 10s) for in-memory orig_ctime hand-off from the Fragmenter and Tier
// Manager.
package indexwatch

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventKind is the kind of filesystem change a Watcher reports.
type EventKind int

const (
	Created EventKind = iota
	Modified
	Deleted
)

func (k EventKind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event is one filesystem change on a watched path.
type Event struct {
	Kind EventKind
	Path string
	Size int64
	// OrigCTime is set when the caller handed off a known capture time via
	// Hint before the filesystem event arrived (the Fragmenter/Tier Manager
	// case from spec.md §4.5); otherwise the Watcher sets it to time.Now()
	// when it reports the event.
	OrigCTime time.Time
}

// Watcher is implemented by both the inotify backend (fsnotify) and the
// polling fallback, selected per tier's poll/inotify flag (spec.md
// GLOSSARY "Tier"). Matching interfaces for swappable backends is the
// pattern spec.md §9 calls out explicitly.
type Watcher interface {
	// Watch begins watching root (recursively) and sends events on the
	// given channel until Close is called.
	Watch(events chan<- Event) error
	// Hint records a known orig_ctime for a path about to be created, so the
	// eventual Created event carries it instead of time.Now().
	Hint(path string, origCTime time.Time)
	Close() error
}

// debouncer coalesces Modified events per path within window, shared by
// both backends.
type debouncer struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	window time.Duration
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{timers: make(map[string]*time.Timer), window: window}
}

func (d *debouncer) schedule(path string, fire func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[path]; ok {
		t.Stop()
	}
	d.timers[path] = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		delete(d.timers, path)
		d.mu.Unlock()
		fire()
	})
}

// hintCache stores orig_ctime hand-offs for a short window so a Created
// event that races the hint submission still picks it up.
type hintCache struct {
	mu    sync.Mutex
	byKey map[string]time.Time
}

func newHintCache() *hintCache {
	return &hintCache{byKey: make(map[string]time.Time)}
}

func (h *hintCache) set(path string, t time.Time) {
	h.mu.Lock()
	h.byKey[path] = t
	h.mu.Unlock()
	// Hints are one-shot and short-lived: drop them if nothing claims them
	// within a few seconds, so a renamed-away path doesn't leak forever.
	time.AfterFunc(10*time.Second, func() {
		h.mu.Lock()
		delete(h.byKey, path)
		h.mu.Unlock()
	})
}

func (h *hintCache) takeOrNow(path string) time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.byKey[path]; ok {
		delete(h.byKey, path)
		return t
	}
	return time.Now().UTC()
}

func statSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

func isHidden(name string) bool {
	base := filepath.Base(name)
	return len(base) > 0 && base[0] == '.'
}

func logClose(name string, err error) {
	if err != nil {
		log.Printf("[indexwatch] error closing %s watcher: %v", name, err)
	}
}

// New constructs the watcher for a tier root according to its poll flag.
func New(root string, poll bool, debounceWindow time.Duration) (Watcher, error) {
	if debounceWindow <= 0 {
		debounceWindow = time.Second
	}
	if poll {
		return newPollWatcher(root, debounceWindow), nil
	}
	w, err := newInotifyWatcher(root, debounceWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to start inotify watcher for %s: %v", root, err)
	}
	return w, nil
}
