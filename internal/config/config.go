// Package config loads daemon configuration from the environment,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/jubileebay/jubileesync/internal/sync/conflict"
)

type Config struct {
	DataDir string
	Remote  RemoteConfig
	Sync    SyncConfig
	Logging LoggingConfig
}

type RemoteConfig struct {
	BaseURL           string
	Token             string
	RequestsPerSecond float64
	Timeout           time.Duration
}

type SyncConfig struct {
	Interval            time.Duration
	BatchSize           int
	PageSize            int
	ResolutionStrategy  conflict.Strategy
	CellularSyncEnabled bool
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	godotenv.Load()

	interval, err := time.ParseDuration(getEnv("SYNC_INTERVAL", "6h"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_INTERVAL: %w", err)
	}

	timeout, err := time.ParseDuration(getEnv("REMOTE_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid REMOTE_TIMEOUT: %w", err)
	}

	strategy, err := conflict.ParseStrategy(getEnv("RESOLUTION_STRATEGY", string(conflict.StrategyThreeWayMerge)))
	if err != nil {
		return nil, fmt.Errorf("invalid RESOLUTION_STRATEGY: %w", err)
	}

	cfg := &Config{
		DataDir: getEnv("DATA_DIR", defaultDataDir()),
		Remote: RemoteConfig{
			BaseURL:           getEnv("REMOTE_BASE_URL", "http://localhost:8080"),
			Token:             getEnv("REMOTE_TOKEN", ""),
			RequestsPerSecond: getEnvAsFloat("REMOTE_REQUESTS_PER_SECOND", 10),
			Timeout:           timeout,
		},
		Sync: SyncConfig{
			Interval:            interval,
			BatchSize:           getEnvAsInt("SYNC_BATCH_SIZE", 50),
			PageSize:            getEnvAsInt("SYNC_PAGE_SIZE", 100),
			ResolutionStrategy:  strategy,
			CellularSyncEnabled: getEnvAsBool("CELLULAR_SYNC_ENABLED", false),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if cfg.Sync.BatchSize <= 0 {
		return nil, fmt.Errorf("SYNC_BATCH_SIZE must be positive, got %d", cfg.Sync.BatchSize)
	}
	if cfg.Sync.PageSize <= 0 {
		return nil, fmt.Errorf("SYNC_PAGE_SIZE must be positive, got %d", cfg.Sync.PageSize)
	}

	return cfg, nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home + "/.jubileesync"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
