package config

import (
	"encoding/json"
	"fmt"
	"log"

	"nvr-core/database"
)

// TierConfigService persists runtime-tunable tier overrides (batch size,
// sweep interval, safety-valve threshold) as a JSON blob in system_config,
// the same shape as the teacher's config/chunk_config.go
// ChunkConfigService — a typed Get/Set pair with a hardcoded default,
// rather than a config file that requires a restart to pick up.
type TierConfigService struct {
	db database.Database
}

// TierRuntimeConfig is the JSON-serialized override document.
type TierRuntimeConfig struct {
	BatchSize            int `json:"batch_size"`
	SweepIntervalSeconds int `json:"sweep_interval_seconds"`
	// MinimumFreeSpaceGB is stored and loaded with the rest of the
	// document; the Tier Manager does not read it and runs no free-space
	// check.
	MinimumFreeSpaceGB int `json:"minimum_free_space_gb"`
}

const systemConfigKeyTierRuntime = "tier_runtime_config"

func defaultTierRuntimeConfig() TierRuntimeConfig {
	return TierRuntimeConfig{
		BatchSize:            100,
		SweepIntervalSeconds: 60,
		MinimumFreeSpaceGB:   10,
	}
}

func NewTierConfigService(db database.Database) *TierConfigService {
	return &TierConfigService{db: db}
}

// GetTierRuntimeConfig reads the override, falling back to hardcoded
// defaults if unset or unparsable.
func (s *TierConfigService) GetTierRuntimeConfig() (TierRuntimeConfig, error) {
	cfg := defaultTierRuntimeConfig()

	raw, err := s.db.GetSystemConfig(systemConfigKeyTierRuntime)
	if err != nil {
		return cfg, fmt.Errorf("failed to read tier runtime config: %v", err)
	}
	if raw == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		log.Printf("[config] failed to parse tier runtime config, using defaults: %v", err)
		return defaultTierRuntimeConfig(), nil
	}
	return cfg, nil
}

// SetTierRuntimeConfig writes a new override document.
func (s *TierConfigService) SetTierRuntimeConfig(cfg TierRuntimeConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal tier runtime config: %v", err)
	}
	if err := s.db.SetSystemConfig(systemConfigKeyTierRuntime, string(data)); err != nil {
		return fmt.Errorf("failed to persist tier runtime config: %v", err)
	}
	return nil
}
