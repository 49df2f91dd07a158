// Package config provides configuration management functionality.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string `validate:"required"` // Base directory for the model database (always absolute)
	LogLevel string `validate:"oneof=debug info warn warning error"`
	Port     int    `validate:"min=1,max=65535"`
	DevMode  bool
	ML       MLConfig
	Cache    CacheConfig
}

// MLConfig controls the sequence model
type MLConfig struct {
	Enabled   bool
	AutoTrain bool
	Epochs    int    `validate:"min=1,max=1000"`
	ModelName string `validate:"required,max=64"`
}

// CacheConfig controls the prediction cache and its cleanup job
type CacheConfig struct {
	TTL             time.Duration `validate:"gt=0"`
	MaxEntries      int           `validate:"min=1"`
	CleanupSchedule string        `validate:"required"` // cron expression with seconds field
}

// DatabasePath returns the location of the model database
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "forecast.db")
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("AUGUR_DATA_DIR", "data")

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
		Port:     getEnvAsInt("GO_PORT", 8001),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		ML: MLConfig{
			Enabled:   getEnvAsBool("ML_ENABLED", true),
			AutoTrain: getEnvAsBool("ML_AUTO_TRAIN", true),
			Epochs:    getEnvAsInt("ML_EPOCHS", 30),
			ModelName: getEnv("ML_MODEL_NAME", "stock-predictor"),
		},
		Cache: CacheConfig{
			TTL:             getEnvAsDuration("PREDICTION_CACHE_TTL", 60*time.Second),
			MaxEntries:      getEnvAsInt("PREDICTION_CACHE_MAX_ENTRIES", 256),
			CleanupSchedule: getEnv("CACHE_CLEANUP_SCHEDULE", "0 */5 * * * *"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

var validate = validator.New()

// Validate checks the configuration values are usable
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("90s") or a plain number of seconds
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
