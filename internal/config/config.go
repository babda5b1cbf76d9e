// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/engine"
	"github.com/aristath/allocator/internal/utils"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the databases and backup staging (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	// SweepWorkers bounds parallel scenario runs; 0 means one per CPU
	SweepWorkers int
	// ResultsRetentionDays is how long finished backtests and sweeps are kept; 0 keeps everything
	ResultsRetentionDays int

	R2     R2Config
	Engine engine.Settings
}

// R2Config holds Cloudflare R2 credentials for report export and backups
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	BackupRetention int
}

// Enabled reports whether every credential is present
func (c R2Config) Enabled() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.SecretAccessKey != "" && c.BucketName != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("ALLOCATOR_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	settings, err := loadEngineSettings()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:              absDataDir,
		Port:                 getEnvAsInt("GO_PORT", 8001),
		DevMode:              getEnvAsBool("DEV_MODE", false),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		SweepWorkers:         getEnvAsInt("SWEEP_WORKERS", 0),
		ResultsRetentionDays: getEnvAsInt("RESULTS_RETENTION_DAYS", 90),
		R2: R2Config{
			AccountID:       getEnv("R2_ACCOUNT_ID", ""),
			AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
			BucketName:      getEnv("R2_BUCKET_NAME", ""),
			BackupRetention: getEnvAsInt("R2_BACKUP_RETENTION", 7),
		},
		Engine: settings,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the server settings and the engine defaults
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return domain.InvalidConfig("GO_PORT", "must be between 1 and 65535, got %d", c.Port)
	}
	if c.SweepWorkers < 0 {
		return domain.InvalidConfig("SWEEP_WORKERS", "must not be negative, got %d", c.SweepWorkers)
	}
	if c.ResultsRetentionDays < 0 {
		return domain.InvalidConfig("RESULTS_RETENTION_DAYS", "must not be negative, got %d", c.ResultsRetentionDays)
	}
	return c.Engine.Validate()
}

// loadEngineSettings overlays ENGINE_* variables on the engine defaults
func loadEngineSettings() (engine.Settings, error) {
	s := engine.DefaultSettings()

	s.Lookback = getEnvAsInt("ENGINE_LOOKBACK", s.Lookback)
	s.Constraints.RiskTolerance = getEnvAsFloat("ENGINE_RISK_TOLERANCE", s.Constraints.RiskTolerance)
	s.Constraints.MaxPosition = getEnvAsFloat("ENGINE_MAX_POSITION", s.Constraints.MaxPosition)
	s.Constraints.MinPosition = getEnvAsFloat("ENGINE_MIN_POSITION", s.Constraints.MinPosition)
	s.Constraints.RiskBudget = getEnvAsFloat("ENGINE_RISK_BUDGET", s.Constraints.RiskBudget)
	s.Constraints.TurnoverPenalty = getEnvAsFloat("ENGINE_TURNOVER_PENALTY", s.Constraints.TurnoverPenalty)
	s.Constraints.CashReserve = getEnvAsFloat("ENGINE_CASH_RESERVE", s.Constraints.CashReserve)

	// the overlay clips to the same cap the optimizer enforces
	s.Overlay.MaxPosition = s.Constraints.MaxPosition
	s.Overlay.StopLossThreshold = getEnvAsFloat("ENGINE_STOP_LOSS", s.Overlay.StopLossThreshold)
	s.Overlay.TrailingStop = getEnvAsFloat("ENGINE_TRAILING_STOP", s.Overlay.TrailingStop)
	s.Overlay.VolTarget = getEnvAsFloat("ENGINE_VOL_TARGET", s.Overlay.VolTarget)

	if raw := getEnv("ENGINE_REBALANCE_FREQUENCY", ""); raw != "" {
		freq, err := domain.ParseRebalanceFrequency(raw)
		if err != nil {
			return s, err
		}
		s.Rebalance = freq
	}

	if raw := getEnv("ENGINE_SECTOR_LIMITS", ""); raw != "" {
		limits, err := ParseSectorLimits(raw)
		if err != nil {
			return s, err
		}
		s.Constraints.SectorLimits = limits
	}
	return s, nil
}

// ParseSectorLimits parses "tech=0.4,energy=0.2" into a sector cap map
func ParseSectorLimits(raw string) (map[string]float64, error) {
	pairs := utils.ParseCSV(raw)
	if len(pairs) == 0 {
		return nil, nil
	}

	limits := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		sector, value, ok := strings.Cut(pair, "=")
		sector = strings.TrimSpace(sector)
		if !ok || sector == "" {
			return nil, domain.InvalidConfig("sector_limits", "expected sector=limit, got %q", pair)
		}
		limit, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, domain.InvalidConfig("sector_limits", "invalid limit for %s: %q", sector, value)
		}
		limits[sector] = limit
	}
	return limits, nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
