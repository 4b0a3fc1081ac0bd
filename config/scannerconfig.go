package config

import (
	"encoding/json"
	"fmt"
	"log"

	"nvr-core/database"
)

// ScannerConfigService persists runtime-tunable scanner overrides (enable
// toggle, scan_fps) as a JSON blob in system_config, keyed per camera.
// Same Get/Set-with-default pattern as TierConfigService and the
// teacher's config/chunk_config.go ChunkConfigService.
type ScannerConfigService struct {
	db database.Database
}

// ScannerRuntimeOverride lets an operator enable/disable a scanner or
// adjust its scan_fps without redeploying the manifest.
type ScannerRuntimeOverride struct {
	Enabled bool    `json:"enabled"`
	ScanFPS float64 `json:"scan_fps"`
}

// ScannerRuntimeConfig maps scanner name to its override, for one camera.
type ScannerRuntimeConfig map[string]ScannerRuntimeOverride

func NewScannerConfigService(db database.Database) *ScannerConfigService {
	return &ScannerConfigService{db: db}
}

func systemConfigKeyScannerRuntime(cameraID string) string {
	return fmt.Sprintf("scanner_runtime_config.%s", cameraID)
}

// GetScannerRuntimeConfig returns the override map for a camera, empty if
// none has ever been set (meaning: use the manifest's values as-is).
func (s *ScannerConfigService) GetScannerRuntimeConfig(cameraID string) (ScannerRuntimeConfig, error) {
	raw, err := s.db.GetSystemConfig(systemConfigKeyScannerRuntime(cameraID))
	if err != nil {
		return nil, fmt.Errorf("failed to read scanner runtime config for %s: %v", cameraID, err)
	}
	if raw == "" {
		return ScannerRuntimeConfig{}, nil
	}
	var cfg ScannerRuntimeConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		log.Printf("[config] failed to parse scanner runtime config for %s, ignoring: %v", cameraID, err)
		return ScannerRuntimeConfig{}, nil
	}
	return cfg, nil
}

// SetScannerRuntimeConfig writes the override map for a camera.
func (s *ScannerConfigService) SetScannerRuntimeConfig(cameraID string, cfg ScannerRuntimeConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal scanner runtime config for %s: %v", cameraID, err)
	}
	if err := s.db.SetSystemConfig(systemConfigKeyScannerRuntime(cameraID), string(data)); err != nil {
		return fmt.Errorf("failed to persist scanner runtime config for %s: %v", cameraID, err)
	}
	return nil
}

// Apply merges runtime overrides onto a camera's scanner list, returning a
// new slice (manifest values are left untouched).
func Apply(scanners []ScannerConfig, overrides ScannerRuntimeConfig) []ScannerConfig {
	if len(overrides) == 0 {
		return scanners
	}
	out := make([]ScannerConfig, len(scanners))
	copy(out, scanners)
	for i, s := range out {
		o, ok := overrides[s.Name]
		if !ok {
			continue
		}
		if o.ScanFPS > 0 {
			out[i].ScanFPS = o.ScanFPS
		}
		out[i].Enabled = o.Enabled
	}
	return out
}
