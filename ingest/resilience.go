package ingest

import (
	"strings"
	"time"
)

// isRecoverableStderr reports whether stderr matches one of the
// operator-configured recoverable error substrings (spec.md §4.1: "dry-run
// the command ... if stderr matches any of a configured list of
// recoverable error substrings").
func isRecoverableStderr(stderr string, substrings []string) bool {
	for _, s := range substrings {
		if s != "" && strings.Contains(stderr, s) {
			return true
		}
	}
	return false
}

// backoff tracks restart attempts for one camera's decoder process,
// grounded on the teacher's ResilienceManager.scheduleRestart
// (recording/resilience.go): exponential backoff capped at 5 minutes,
// reset after an hour of stability.
type backoff struct {
	delay        time.Duration
	restartCount int
	lastRestart  time.Time
}

const (
	minBackoff = 5 * time.Second
	maxBackoff = 5 * time.Minute
)

func newBackoff() *backoff {
	return &backoff{delay: minBackoff}
}

// next advances the backoff state and returns how long to wait before the
// next restart attempt.
func (b *backoff) next() time.Duration {
	if time.Since(b.lastRestart) > time.Hour {
		b.restartCount = 0
		b.delay = minBackoff
	}
	b.restartCount++
	b.lastRestart = time.Now()

	wait := b.delay
	b.delay *= 2
	if b.delay > maxBackoff {
		b.delay = maxBackoff
	}
	return wait
}

func (b *backoff) reset() {
	b.delay = minBackoff
	b.restartCount = 0
}
