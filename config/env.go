// Package config is the two-layer configuration system: environment
// variables for process-wide basics (ports, paths, database file) loaded
// the way the teacher's config/config.go does with joho/godotenv, and a
// YAML camera/scanner/tier manifest for the inherently nested domain
// config that doesn't fit flat env vars.
package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// ProcessConfig holds the process-wide settings read from the environment.
type ProcessConfig struct {
	ServerPort   string
	BaseURL      string
	DatabasePath string
	ManifestPath string
	BusHost      string
	BusPort      int
	LogLevel     string
}

// LoadProcessConfig reads .env (if present) then the environment, applying
// fallbacks the way the teacher's LoadConfig does for every field.
func LoadProcessConfig() ProcessConfig {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfg := ProcessConfig{
		ServerPort:   getEnv("PORT", "3000"),
		BaseURL:      getEnv("BASE_URL", "http://localhost:3000"),
		DatabasePath: getEnv("DATABASE_PATH", "./data/index.db"),
		ManifestPath: getEnv("MANIFEST_PATH", "./manifest.yaml"),
		BusHost:      getEnv("BUS_HOST", "127.0.0.1"),
		BusPort: func() int {
			port, _ := strconv.Atoi(getEnv("BUS_PORT", "0"))
			return port
		}(),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	log.Printf("Loaded process configuration: port=%s database=%s manifest=%s",
		cfg.ServerPort, cfg.DatabasePath, cfg.ManifestPath)

	return cfg
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// EnsurePaths creates the directories ProcessConfig's file paths live in.
func EnsurePaths(cfg ProcessConfig) {
	dir := filepath.Dir(cfg.DatabasePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Printf("failed to create directory %s: %v", dir, err)
	}
}
