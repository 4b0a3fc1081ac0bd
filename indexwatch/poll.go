package indexwatch

import (
	"os"
	"path/filepath"
	"sync"
	"time"
)

// pollWatcher is the fallback backend for tiers whose poll flag is set
// (network mounts where inotify doesn't fire reliably, per spec.md
// GLOSSARY "Tier": "a poll/inotify flag"). It snapshots the tree on a fixed
// interval and diffs against the previous snapshot.
type pollWatcher struct {
	root     string
	interval time.Duration
	debounce *debouncer
	hints    *hintCache

	mu   sync.Mutex
	seen map[string]int64 // path -> size at last scan
	stop chan struct{}
}

func newPollWatcher(root string, debounceWindow time.Duration) *pollWatcher {
	return &pollWatcher{
		root:     root,
		interval: 2 * time.Second,
		debounce: newDebouncer(debounceWindow),
		hints:    newHintCache(),
		seen:     make(map[string]int64),
		stop:     make(chan struct{}),
	}
}

func (p *pollWatcher) Watch(events chan<- Event) error {
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.scan(events)
			}
		}
	}()
	return nil
}

func (p *pollWatcher) scan(out chan<- Event) {
	current := make(map[string]int64)

	_ = filepath.Walk(p.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || isHidden(path) {
			return nil
		}
		current[path] = info.Size()
		return nil
	})

	p.mu.Lock()
	defer p.mu.Unlock()

	for path, size := range current {
		prevSize, existed := p.seen[path]
		switch {
		case !existed:
			out <- Event{Kind: Created, Path: path, Size: size, OrigCTime: p.hints.takeOrNow(path)}
		case prevSize != size:
			path := path
			p.debounce.schedule(path, func() {
				out <- Event{Kind: Modified, Path: path, Size: current[path]}
			})
		}
	}
	for path := range p.seen {
		if _, stillThere := current[path]; !stillThere {
			out <- Event{Kind: Deleted, Path: path}
		}
	}

	p.seen = current
}

func (p *pollWatcher) Hint(path string, origCTime time.Time) {
	p.hints.set(path, origCTime)
}

func (p *pollWatcher) Close() error {
	close(p.stop)
	return nil
}
