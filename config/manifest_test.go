package config

import (
	"os"
	"path/filepath"
	"testing"
)

const testManifestYAML = `
tiers:
  - id: 0
    root: /data/tier0
    sweep_interval_seconds: 60
    continuous:
      max_age_seconds: 86400
      max_bytes: 1000000
    events:
      max_age_seconds: 604800
      max_bytes: 5000000
  - id: 1
    root: /data/tier1
cameras:
  - id: front-door
    name: Front Door
    rtsp_url: rtsp://192.168.1.10/stream1
    output_fps: 10
    recorder:
      idle_timeout_seconds: 30
    scanners:
      - name: person-detector
        type: object
        scan_fps: 50
        trigger_event_recording: true
        enabled: true
`

func writeTestManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test manifest: %v", err)
	}
	return path
}

func TestLoadManifestAppliesDefaults(t *testing.T) {
	path := writeTestManifest(t, testManifestYAML)
	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest() error = %v", err)
	}
	if len(m.Cameras) != 1 || len(m.Tiers) != 2 {
		t.Fatalf("got %d cameras, %d tiers, want 1 and 2", len(m.Cameras), len(m.Tiers))
	}
	cam := m.Cameras[0]
	if cam.SegmentDuration != 30 {
		t.Fatalf("SegmentDuration = %d, want default 30", cam.SegmentDuration)
	}
	if cam.Recorder.MaxRecordingTimeSeconds != 300 {
		t.Fatalf("MaxRecordingTimeSeconds = %d, want default 300", cam.Recorder.MaxRecordingTimeSeconds)
	}
	if got := cam.Scanners[0].ScanFPS; got != 10 {
		t.Fatalf("ScanFPS = %v, want clamped to output_fps 10", got)
	}
	if m.Tiers[1].BatchSize != 100 {
		t.Fatalf("tier 1 BatchSize = %d, want default 100", m.Tiers[1].BatchSize)
	}
}

func TestLoadManifestRejectsMissingRTSPURL(t *testing.T) {
	bad := `
tiers:
  - id: 0
    root: /data/tier0
cameras:
  - id: cam-1
    name: bad camera
`
	path := writeTestManifest(t, bad)
	if _, err := LoadManifest(path); err == nil {
		t.Fatalf("LoadManifest() error = nil, want error for missing rtsp_url")
	}
}

func TestLoadManifestRejectsNoTiers(t *testing.T) {
	bad := `
cameras:
  - id: cam-1
    rtsp_url: rtsp://example/stream
`
	path := writeTestManifest(t, bad)
	if _, err := LoadManifest(path); err == nil {
		t.Fatalf("LoadManifest() error = nil, want error for zero tiers")
	}
}

func TestScanInterval(t *testing.T) {
	cam := CameraConfig{OutputFPS: 10}
	cases := []struct {
		fps  float64
		want int
	}{
		{10, 1},
		{5, 2},
		{1, 10},
		{0, 1},
	}
	for _, tc := range cases {
		if got := cam.ScanInterval(ScannerConfig{ScanFPS: tc.fps}); got != tc.want {
			t.Fatalf("ScanInterval(fps=%v) = %d, want %d", tc.fps, got, tc.want)
		}
	}
}
