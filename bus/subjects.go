package bus

import (
	"fmt"
	"time"
)

// Subject builders. Dot-separated NATS subject syntax per spec.md §6.

func CameraStatusSubject(cameraID string) string  { return fmt.Sprintf("camera.%s.status", cameraID) }
func CameraStartedSubject(cameraID string) string { return fmt.Sprintf("camera.%s.started", cameraID) }
func CameraStoppedSubject(cameraID string) string { return fmt.Sprintf("camera.%s.stopped", cameraID) }

func RecorderStartSubject(cameraID string) string    { return fmt.Sprintf("recorder.%s.start", cameraID) }
func RecorderStopSubject(cameraID string) string     { return fmt.Sprintf("recorder.%s.stop", cameraID) }
func RecorderCompleteSubject(cameraID string) string { return fmt.Sprintf("recorder.%s.complete", cameraID) }

// RecorderManualSubject is the subject a control client (nvrctl) publishes
// to for the manual override path of spec.md §4.6.
func RecorderManualSubject(cameraID string) string { return fmt.Sprintf("recorder.%s.manual", cameraID) }

const (
	FileCreatedSubject = "file.created"
	FileDeletedSubject = "file.deleted"
)

// TierCheckSubject builds the bus subject of a sweep request. tier.Manager
// coalesces requests by camera and tier only; it does not use the category
// and subcategory parts of the subject.
func TierCheckSubject(cameraID string, tierID int, category, subcategory string) string {
	return fmt.Sprintf("tier.check.%s.%d.%s.%s", cameraID, tierID, category, subcategory)
}

// CameraStatus is the payload for camera.<id>.status.
type CameraStatus struct {
	CameraID string    `json:"camera_identifier"`
	Status   string    `json:"status"` // "connecting", "streaming", "disconnected"
	At       time.Time `json:"at"`
}

// RecorderEvent is the payload for recorder.<id>.start|stop|complete.
type RecorderEvent struct {
	CameraID    string `json:"camera"`
	RecordingID string `json:"recording"`
}

// RecorderManualCommand is the payload for recorder.<id>.manual: a request
// to start (Start=true, DurationSeconds>0 or 0 for indefinite) or cancel
// (Start=false) a manual recording.
type RecorderManualCommand struct {
	Start           bool `json:"start"`
	DurationSeconds int  `json:"duration_seconds"`
}

// FileEvent is the payload for file.created and file.deleted.
type FileEvent struct {
	CameraID    string `json:"camera_identifier"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
	FileName    string `json:"file_name"`
	Path        string `json:"path"`
}
