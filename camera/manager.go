package camera

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"nvr-core/bus"
	"nvr-core/config"
	"nvr-core/database"
	"nvr-core/fragmenter"
)

// Manager owns the running set of Cameras for a manifest, the same
// map-of-cancelable-goroutines shape as the teacher's RecordingManager,
// generalized to a full pipeline per camera instead of one ffmpeg call.
type Manager struct {
	db  database.Database
	bus *bus.Bus
	fr  *fragmenter.Fragmenter

	tempRoot string
	hotTier  config.TierConfig

	mu      sync.Mutex
	cameras map[string]*Camera
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewManager builds a Manager. tempRoot is where each camera's Stream
// Reader writes its raw closed segments before fragmentation; manifest
// must have at least one tier, the first of which is treated as the hot
// tier fragments land in.
func NewManager(db database.Database, b *bus.Bus, fr *fragmenter.Fragmenter, tempRoot string, manifest *config.Manifest) (*Manager, error) {
	if len(manifest.Tiers) == 0 {
		return nil, fmt.Errorf("manifest has no tiers configured")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		db:       db,
		bus:      b,
		fr:       fr,
		tempRoot: tempRoot,
		hotTier:  manifest.Tiers[0],
		cameras:  make(map[string]*Camera),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// StartAll builds and starts every enabled camera in the manifest.
func (m *Manager) StartAll(manifest *config.Manifest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, cc := range manifest.Cameras {
		if !cc.Enabled {
			log.Printf("[camera] skipping disabled camera: %s", cc.ID)
			continue
		}
		if err := m.startLocked(cc); err != nil {
			log.Printf("[camera] failed to start camera %s: %v", cc.ID, err)
			continue
		}
	}
	return nil
}

func (m *Manager) startLocked(cc config.CameraConfig) error {
	if existing, ok := m.cameras[cc.ID]; ok {
		existing.Stop()
		delete(m.cameras, cc.ID)
	}

	tempDir := filepath.Join(m.tempRoot, cc.ID)
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return fmt.Errorf("failed to create temp dir for camera %s: %v", cc.ID, err)
	}

	cam, err := New(cc, tempDir, m.hotTier, m.db, m.bus)
	if err != nil {
		return err
	}
	cam.Start(m.ctx, m.fr)
	m.cameras[cc.ID] = cam
	log.Printf("[camera] started camera %s", cc.ID)
	return nil
}

// Get returns the running Camera for id, or nil if it isn't running.
func (m *Manager) Get(id string) *Camera {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cameras[id]
}

// CameraStatus reports one running camera's recording state, for the
// external API boundary.
type CameraStatus struct {
	ID          string `json:"id"`
	IsRecording bool   `json:"is_recording"`
}

// Status reports every running camera's current recording state.
func (m *Manager) Status() []CameraStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CameraStatus, 0, len(m.cameras))
	for id, cam := range m.cameras {
		out = append(out, CameraStatus{ID: id, IsRecording: cam.IsRecording()})
	}
	return out
}

// StopAll cancels every camera's pipeline. Per spec.md §5's shutdown
// ordering (VISERON_SIGNAL_STOPPING -> per-camera stop -> ...), this is
// called before the Fragmenter's final sweep and the Tier Manager's
// shutdown move pass.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, cam := range m.cameras {
		cam.Stop()
		delete(m.cameras, id)
	}
	m.cancel()
}
