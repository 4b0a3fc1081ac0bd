package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest is the nested camera/scanner/tier domain configuration, loaded
// from YAML the way Spatial-NVR's internal/config/config.go loads its
// camera/detector/storage tree — a typed struct validated in one pass
// rather than the source's voluptuous schema (spec.md §9 redesign note).
type Manifest struct {
	Cameras []CameraConfig `yaml:"cameras"`
	Tiers   []TierConfig   `yaml:"tiers"`

	path string
}

// CameraConfig describes one camera's stream, recorder and scanner set.
type CameraConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	RTSPURL  string `yaml:"rtsp_url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Substream supplies the raw-frame pipe when set; the main RTSPURL
	// then supplies only the segment chain (spec.md §4.1).
	SubstreamURL string `yaml:"substream_url"`

	Width           int `yaml:"width"`
	Height          int `yaml:"height"`
	OutputFPS       int `yaml:"output_fps"`
	SegmentDuration int `yaml:"segment_duration_seconds"`

	HWAccel                string   `yaml:"hw_accel"` // "", "vaapi", "cuda", "rpi"
	RecoverableStderrMatch  []string `yaml:"recoverable_stderr_substrings"`
	LogLevel               string   `yaml:"decoder_log_level"`

	Recorder RecorderConfig  `yaml:"recorder"`
	Scanners []ScannerConfig `yaml:"scanners"`

	Enabled bool `yaml:"enabled"`
}

// RecorderConfig is the NVR state machine's per-camera tuning (spec.md §4.6).
type RecorderConfig struct {
	IdleTimeoutSeconds       int  `yaml:"idle_timeout_seconds"`
	MaxRecordingTimeSeconds  int  `yaml:"max_recording_time_seconds"`
	RecorderKeepalive        bool `yaml:"recorder_keepalive"`
	MaxKeepaliveSeconds      int  `yaml:"max_recorder_keepalive_seconds"`
	LookbackSeconds          int  `yaml:"lookback_seconds"`
	CreateEventClip          bool `yaml:"create_event_clip"`
}

// ScannerConfig describes one scanner attached to a camera (spec.md §4.2).
type ScannerConfig struct {
	Name                string         `yaml:"name"`
	Type                string         `yaml:"type"` // "object", "motion", "none"
	ScanFPS             float64        `yaml:"scan_fps"`
	TriggerEventRecording bool         `yaml:"trigger_event_recording"`
	ScanOnMotionOnly    bool           `yaml:"scan_on_motion_only"`
	ObjectFilters       []ObjectFilter `yaml:"object_filters"`
	Enabled             bool           `yaml:"enabled"`
}

// ObjectFilter is the per-label acceptance rule the state machine applies
// to a scanner's detections (spec.md §4.6 step 1).
type ObjectFilter struct {
	Label               string  `yaml:"label"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	WidthMin            float64 `yaml:"width_min"`
	WidthMax            float64 `yaml:"width_max"`
	HeightMin           float64 `yaml:"height_min"`
	HeightMax           float64 `yaml:"height_max"`
	RequireMotion       bool    `yaml:"require_motion"`
	TriggerEventRecording bool  `yaml:"trigger_event_recording"`
}

// RetentionPolicy is one half (continuous or events) of a tier's category
// retention rule (spec.md GLOSSARY "Tier").
type RetentionPolicy struct {
	MaxAge   time.Duration `yaml:"-"`
	MinAge   time.Duration `yaml:"-"`
	MaxBytes int64         `yaml:"max_bytes"`
	MinBytes int64         `yaml:"min_bytes"`

	MaxAgeSeconds int `yaml:"max_age_seconds"`
	MinAgeSeconds int `yaml:"min_age_seconds"`
}

func (r *RetentionPolicy) resolve() {
	r.MaxAge = time.Duration(r.MaxAgeSeconds) * time.Second
	r.MinAge = time.Duration(r.MinAgeSeconds) * time.Second
}

// TierConfig is one ordered storage tier (spec.md GLOSSARY "Tier").
type TierConfig struct {
	ID             int    `yaml:"id"`
	Root           string `yaml:"root"`
	Poll           bool   `yaml:"poll"`
	MoveOnShutdown bool   `yaml:"move_on_shutdown"`

	LookbackSeconds int `yaml:"lookback_seconds"`
	BatchSize       int `yaml:"batch_size"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`

	Continuous RetentionPolicy `yaml:"continuous"`
	Events     RetentionPolicy `yaml:"events"`

	// S3-compatible terminal tier, optional.
	S3 *S3TierConfig `yaml:"s3"`
}

// S3TierConfig configures an S3/R2-compatible terminal tier, adapted from
// the teacher's storage/r2.go connection fields.
type S3TierConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	BaseURL   string `yaml:"base_url"`
}

// LoadManifest reads and validates the YAML manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %v", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %v", path, err)
	}
	m.path = path

	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %v", path, err)
	}

	log.Printf("[config] loaded manifest %s: %d cameras, %d tiers", path, len(m.Cameras), len(m.Tiers))
	return &m, nil
}

// validate resolves defaults up front, matching spec.md §9's "validation
// pass that resolves deprecation warnings upfront" guidance for the
// voluptuous-schema replacement.
func (m *Manifest) validate() error {
	if len(m.Tiers) == 0 {
		return fmt.Errorf("manifest must declare at least one tier")
	}
	for i := range m.Tiers {
		t := &m.Tiers[i]
		if t.Root == "" {
			return fmt.Errorf("tier %d: root path is required", t.ID)
		}
		if t.SweepIntervalSeconds == 0 {
			t.SweepIntervalSeconds = 60
		}
		if t.BatchSize == 0 {
			t.BatchSize = 100
		}
		t.Continuous.resolve()
		t.Events.resolve()
	}

	for i := range m.Cameras {
		c := &m.Cameras[i]
		if c.ID == "" {
			return fmt.Errorf("camera %d: id is required", i)
		}
		if c.RTSPURL == "" {
			return fmt.Errorf("camera %s: rtsp_url is required", c.ID)
		}
		if c.SegmentDuration == 0 {
			c.SegmentDuration = 30
		}
		if c.OutputFPS == 0 {
			c.OutputFPS = 10
		}
		if c.Recorder.IdleTimeoutSeconds == 0 {
			c.Recorder.IdleTimeoutSeconds = 30
		}
		if c.Recorder.MaxRecordingTimeSeconds == 0 {
			c.Recorder.MaxRecordingTimeSeconds = 300
		}
		for j := range c.Scanners {
			s := &c.Scanners[j]
			if s.ScanFPS <= 0 {
				s.ScanFPS = 1
			}
			if s.ScanFPS > float64(c.OutputFPS) {
				log.Printf("[config] camera %s scanner %s: scan_fps %.1f > output_fps %d, clamping",
					c.ID, s.Name, s.ScanFPS, c.OutputFPS)
				s.ScanFPS = float64(c.OutputFPS)
			}
		}
	}
	return nil
}

// ScanInterval returns round(output_fps / scan_fps), minimum 1, per
// spec.md §4.2.
func (c CameraConfig) ScanInterval(s ScannerConfig) int {
	if s.ScanFPS <= 0 {
		return 1
	}
	interval := int(float64(c.OutputFPS)/s.ScanFPS + 0.5)
	if interval < 1 {
		return 1
	}
	return interval
}
