// Package nvr is the NVR State Machine (spec C6): the per-tick procedure
// that turns scanner results into Recording rows and drives the object/
// motion scanners' arming.
package nvr

import (
	"crypto/rand"
	"log"
	"math"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"nvr-core/bus"
	"nvr-core/config"
	"nvr-core/database"
	"nvr-core/scanner"
)

// newRecordingID returns a lexically sortable id so Recording rows list
// in creation order without a secondary ORDER BY on a timestamp column.
func newRecordingID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}

// Recorder is one camera's state machine instance.
type Recorder struct {
	CameraID        string
	SegmentDuration time.Duration

	db  database.Database
	bus *bus.Bus

	cfg config.RecorderConfig

	objectScanner    *scanner.Scanner
	objectFilters    []config.ObjectFilter
	scanOnMotionOnly bool
	objectEnabled    bool

	motionScanner    *scanner.Scanner
	motionTriggers   bool // motion scanner's trigger_event_recording
	motionEnabled    bool

	// ThumbnailFunc snapshots the current decoded frame (annotated with
	// any objects in frame) to a thumbnail path when a recording starts.
	// Optional.
	ThumbnailFunc func(cameraID, recordingID string, objects []scanner.DetectedObject) (string, error)
	// EventClipFunc materializes the single-file event clip once a
	// recording closes, returning its path. Optional; when nil,
	// recorder/complete is published immediately after recorder/stop,
	// matching spec.md §4.6's create_event_clip = false case.
	EventClipFunc func(rec database.Recording) (string, error)

	mu sync.Mutex

	isRecording    bool
	active         *database.Recording
	stopRecorderAt *time.Time

	motionDetected    bool
	objectsInFOV      []scanner.DetectedObject
	objectTriggersNow bool
	motionOnlySince   *time.Time

	manualActive   bool
	manualDuration *time.Duration

	lastDebugLogSecond int64
}

// New builds a Recorder for one camera. objectScanner/motionScanner may
// be nil if that detector type isn't configured.
func New(db database.Database, b *bus.Bus, cameraID string, segmentDuration time.Duration, recorderCfg config.RecorderConfig, objectScanner *scanner.Scanner, objectCfg *config.ScannerConfig, motionScanner *scanner.Scanner, motionCfg *config.ScannerConfig) *Recorder {
	r := &Recorder{
		CameraID:        cameraID,
		SegmentDuration: segmentDuration,
		db:              db,
		bus:             b,
		cfg:             recorderCfg,
		objectScanner:   objectScanner,
		motionScanner:   motionScanner,
	}
	if objectCfg != nil {
		r.objectFilters = objectCfg.ObjectFilters
		r.scanOnMotionOnly = objectCfg.ScanOnMotionOnly
		r.objectEnabled = objectCfg.Enabled
	}
	if motionCfg != nil {
		r.motionTriggers = motionCfg.TriggerEventRecording
		r.motionEnabled = motionCfg.Enabled
	}
	return r
}

// RequestManual starts (or extends) a manual recording. duration == nil
// means record indefinitely until CancelManual is called.
func (r *Recorder) RequestManual(duration *time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manualActive = true
	r.manualDuration = duration
}

// CancelManual ends a manual recording request; the state machine will
// fall through to its normal idle-timeout/keepalive logic on the next tick.
func (r *Recorder) CancelManual() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manualActive = false
	r.manualDuration = nil
}

// Tick runs the per-tick procedure (spec.md §4.6). The camera calls it on
// a fixed 500ms ticker.
func (r *Recorder) Tick(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.drainScannerResults()

	triggerNow, triggerType := r.computeTrigger()
	r.applyTrigger(now, triggerNow, triggerType)
	r.enforceDeadlines(now)
	r.gateScanners()
}

// drainScannerResults implements step 1: non-blocking drain of each armed
// scanner's result queue, motion first so the object filter's
// require_motion check sees this tick's motion state.
func (r *Recorder) drainScannerResults() {
	if r.motionScanner != nil && r.motionScanner.Armed() {
		if result, ok := r.motionScanner.TryResult(); ok {
			r.motionDetected = result.Motion
		}
	}
	if r.objectScanner != nil && r.objectScanner.Armed() {
		if result, ok := r.objectScanner.TryResult(); ok {
			r.objectsInFOV, r.objectTriggersNow = filterObjects(result.Objects, r.objectFilters, r.motionDetected)
		}
	}
}

// computeTrigger implements step 2.
func (r *Recorder) computeTrigger() (bool, database.TriggerType) {
	if r.manualActive {
		return true, database.TriggerManual
	}
	if r.objectTriggersNow {
		return true, database.TriggerObject
	}
	if r.motionTriggers && r.motionDetected {
		return true, database.TriggerMotion
	}
	return false, ""
}

// applyTrigger implements step 3's start/stop bookkeeping.
func (r *Recorder) applyTrigger(now time.Time, triggerNow bool, triggerType database.TriggerType) {
	switch {
	case triggerNow && !r.isRecording:
		r.startRecording(now, triggerType)

	case triggerNow && r.isRecording:
		if triggerType == database.TriggerManual && r.active.TriggerType != database.TriggerManual {
			log.Printf("[nvr:%s] manual recording overrides in-progress %s trigger", r.CameraID, r.active.TriggerType)
			r.stopRecording(now, "manual override")
			r.startRecording(now, triggerType)
		} else {
			r.stopRecorderAt = nil
			r.motionOnlySince = nil
		}

	case !triggerNow && r.isRecording:
		r.handleNoTrigger(now)
	}

	if r.stopRecorderAt != nil {
		secondsLeft := int(math.Max(0, math.Ceil(r.stopRecorderAt.Sub(now).Seconds())))
		if secondsLeft != int(r.lastDebugLogSecond) {
			log.Printf("[nvr:%s] countdown: %ds until recorder stop", r.CameraID, secondsLeft)
			r.lastDebugLogSecond = int64(secondsLeft)
		}
		if now.After(*r.stopRecorderAt) || now.Equal(*r.stopRecorderAt) {
			r.stopRecording(now, "idle timeout")
		}
	}
}

// handleNoTrigger implements the keepalive/idle-countdown branch of step 3.
func (r *Recorder) handleNoTrigger(now time.Time) {
	if r.cfg.RecorderKeepalive && r.motionDetected {
		if r.motionOnlySince == nil {
			t := now
			r.motionOnlySince = &t
		}
		maxKeepalive := time.Duration(r.cfg.MaxKeepaliveSeconds) * time.Second
		if now.Sub(*r.motionOnlySince) <= maxKeepalive {
			return // motion-only extension still within budget, no countdown yet
		}
		log.Printf("[nvr:%s] max keepalive reached, starting stop countdown", r.CameraID)
	}
	if r.stopRecorderAt == nil {
		deadline := now.Add(time.Duration(r.cfg.IdleTimeoutSeconds) * time.Second)
		r.stopRecorderAt = &deadline
	}
}

// enforceDeadlines implements the "independently" clauses of step 3:
// max_recording_time and manual-duration force stops.
func (r *Recorder) enforceDeadlines(now time.Time) {
	if !r.isRecording || r.active == nil {
		return
	}
	if r.cfg.MaxRecordingTimeSeconds > 0 {
		maxDur := time.Duration(r.cfg.MaxRecordingTimeSeconds) * time.Second
		if now.Sub(r.active.StartTime) >= maxDur {
			log.Printf("[nvr:%s] max recording time exceeded", r.CameraID)
			r.stopRecording(now, "max recording time exceeded")
			return
		}
	}
	if r.active.TriggerType == database.TriggerManual && r.manualDuration != nil {
		if now.Sub(r.active.StartTime) >= *r.manualDuration {
			r.manualActive = false
			r.manualDuration = nil
			r.stopRecording(now, "manual duration elapsed")
		}
	}
}

// gateScanners implements step 4: recompute scan arming at tick end.
func (r *Recorder) gateScanners() {
	if r.objectScanner != nil {
		objectScan := r.objectEnabled && (!r.scanOnMotionOnly || r.motionDetected)
		r.objectScanner.SetArmed(objectScan)
	}
	if r.motionScanner != nil {
		motionScan := r.motionEnabled && (!r.isRecording || r.cfg.RecorderKeepalive)
		r.motionScanner.SetArmed(motionScan)
	}
}

func (r *Recorder) startRecording(now time.Time, triggerType database.TriggerType) {
	lookback := time.Duration(r.cfg.LookbackSeconds) * time.Second
	rec := database.Recording{
		ID:                newRecordingID(now),
		CameraID:          r.CameraID,
		StartTime:         now,
		AdjustedStartTime: now.Add(-(r.SegmentDuration + lookback)),
		TriggerType:       triggerType,
	}
	if r.ThumbnailFunc != nil {
		if path, err := r.ThumbnailFunc(r.CameraID, rec.ID, r.objectsInFOV); err != nil {
			log.Printf("[nvr:%s] thumbnail snapshot failed: %v", r.CameraID, err)
		} else {
			rec.ThumbnailPath = path
		}
	}
	if r.db != nil {
		if err := r.db.CreateRecording(rec); err != nil {
			log.Printf("[nvr:%s] create recording failed: %v", r.CameraID, err)
		}
	}

	r.active = &rec
	r.isRecording = true
	r.stopRecorderAt = nil
	r.motionOnlySince = nil
	r.lastDebugLogSecond = -1

	if r.cfg.RecorderKeepalive && r.motionScanner != nil {
		r.motionScanner.SetArmed(true)
	}

	r.publish(bus.RecorderStartSubject(r.CameraID), rec.ID)
	log.Printf("[nvr:%s] recording started: %s (%s)", r.CameraID, rec.ID, triggerType)
}

func (r *Recorder) stopRecording(now time.Time, reason string) {
	if r.active == nil {
		return
	}
	rec := *r.active
	if r.db != nil {
		if err := r.db.CloseRecording(rec.ID, now); err != nil {
			log.Printf("[nvr:%s] close recording failed: %v", r.CameraID, err)
		}
	}
	r.publish(bus.RecorderStopSubject(r.CameraID), rec.ID)
	log.Printf("[nvr:%s] recording stopped: %s (%s)", r.CameraID, rec.ID, reason)

	r.isRecording = false
	r.active = nil
	r.stopRecorderAt = nil
	r.motionOnlySince = nil

	r.maybeMaterializeEventClip(rec)
}

// maybeMaterializeEventClip runs EventClipFunc (if configured) and
// publishes recorder/complete, which "may be the same moment as stop when
// create_event_clip = false" (spec.md §4.6). A failure is retried exactly
// once before giving up, per spec.md's Open Question recommendation for
// create_event_clip failures ("retry once, then give up and log").
func (r *Recorder) maybeMaterializeEventClip(rec database.Recording) {
	if r.EventClipFunc == nil {
		r.publish(bus.RecorderCompleteSubject(r.CameraID), rec.ID)
		return
	}

	clipPath, err := r.EventClipFunc(rec)
	if err != nil {
		log.Printf("[nvr:%s] event clip materialization failed, retrying once: %v", r.CameraID, err)
		clipPath, err = r.EventClipFunc(rec)
	}
	if err != nil {
		log.Printf("[nvr:%s] event clip materialization failed after retry, giving up: %v", r.CameraID, err)
	} else if r.db != nil {
		if err := r.db.SetRecordingClipPath(rec.ID, clipPath); err != nil {
			log.Printf("[nvr:%s] set clip path failed: %v", r.CameraID, err)
		}
	}
	r.publish(bus.RecorderCompleteSubject(r.CameraID), rec.ID)
}

func (r *Recorder) publish(subject, recordingID string) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(subject, bus.RecorderEvent{CameraID: r.CameraID, RecordingID: recordingID}); err != nil {
		log.Printf("[nvr:%s] publish %s failed: %v", r.CameraID, subject, err)
	}
}

// IsRecording reports the current recording state, for callers like the
// HLS assembler or a status endpoint.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isRecording
}

