package config

import (
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"proxima/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig
	Ops      OpsConfig
	Database DatabaseConfig
	Analysis AnalysisConfig
	Session  SessionConfig
	Logging  LoggingConfig
	Tracing  TracingConfig
	Data     DataConfig
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port    string `validate:"required,numeric"`
	GinMode string `validate:"oneof=debug release test"`

	// GenerateRate limits dataset generation and upload requests per second; 0 disables
	GenerateRate  float64 `validate:"gte=0"`
	GenerateBurst int     `validate:"gte=1"`

	MaxUploadBytes int64 `validate:"gt=0"`
}

// OpsConfig holds the profiling and metrics listener
type OpsConfig struct {
	Port    string `validate:"required_if=Enabled true"`
	Enabled bool
}

// DatabaseConfig holds report persistence settings. An empty URL keeps reports in memory.
type DatabaseConfig struct {
	Driver string `validate:"oneof=postgres sqlite"`
	URL    string
}

// AnalysisConfig holds defaults for analysis requests
type AnalysisConfig struct {
	ProfilePath           string
	DefaultThreshold      float64
	DefaultMinCount       int     `validate:"gte=0"`
	BootstrapDraws        int     `validate:"gt=0,ltefield=MaxBootstrapDraws"`
	MaxBootstrapDraws     int     `validate:"gt=0"`
	BootstrapWorkers      int     `validate:"gte=0"`
	MinSuccessfulFraction float64 `validate:"gte=0,lte=1"`
	Alpha                 float64 `validate:"gt=0,lt=1"`
	Seed                  uint64
}

// SessionConfig bounds the in-memory session store
type SessionConfig struct {
	TTL         time.Duration `validate:"gte=1s"`
	MaxSessions int           `validate:"gt=0"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level       string
	Development bool
}

// TracingConfig toggles OpenTelemetry tracing
type TracingConfig struct {
	Enabled bool
	Stdout  bool
}

// DataConfig holds an optional dataset preloaded at startup
type DataConfig struct {
	File string
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{
		Server:   *loadServerConfig(),
		Ops:      *loadOpsConfig(),
		Database: *loadDatabaseConfig(),
		Analysis: *loadAnalysisConfig(),
		Session:  *loadSessionConfig(),
		Logging: LoggingConfig{
			Level:       getEnvOrDefault("LOG_LEVEL", "INFO"),
			Development: getEnvBoolOrDefault("LOG_DEV", false),
		},
		Tracing: TracingConfig{
			Enabled: getEnvBoolOrDefault("TRACING_ENABLED", false),
			Stdout:  getEnvBoolOrDefault("TRACING_STDOUT", false),
		},
		Data: DataConfig{File: getEnvOrDefault("DATA_FILE", "")},
	}

	if err := Validate(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

var validate = validator.New()

// Validate checks the struct tags of a loaded configuration
func Validate(config *Config) error {
	if err := validate.Struct(config); err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, err)
	}
	return nil
}

func loadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:    getEnvOrDefault("PORT", "8000"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		GenerateRate:  getEnvFloatOrDefault("GENERATE_RATE", 1),
		GenerateBurst: getEnvIntOrDefault("GENERATE_BURST", 3),

		MaxUploadBytes: int64(getEnvIntOrDefault("MAX_UPLOAD_BYTES", 128<<20)),
	}
}

func loadOpsConfig() *OpsConfig {
	return &OpsConfig{
		Port:    getEnvOrDefault("PPROF_PORT", "6060"),
		Enabled: getEnvBoolOrDefault("PPROF_ENABLED", true),
	}
}

func loadDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Driver: getEnvOrDefault("DATABASE_DRIVER", "postgres"),
		URL:    getEnvOrDefault("DATABASE_URL", ""),
	}
}

func loadAnalysisConfig() *AnalysisConfig {
	return &AnalysisConfig{
		ProfilePath:           getEnvOrDefault("ANALYSIS_PROFILE", ""),
		DefaultThreshold:      getEnvFloatOrDefault("DECISION_THRESHOLD", 0),
		DefaultMinCount:       getEnvIntOrDefault("FRAGILITY_MIN_COUNT", 500),
		BootstrapDraws:        getEnvIntOrDefault("BOOTSTRAP_DRAWS", 1000),
		MaxBootstrapDraws:     getEnvIntOrDefault("BOOTSTRAP_MAX_DRAWS", 100000),
		BootstrapWorkers:      getEnvIntOrDefault("BOOTSTRAP_WORKERS", 0),
		MinSuccessfulFraction: getEnvFloatOrDefault("BOOTSTRAP_MIN_SUCCESS", 0.5),
		Alpha:                 getEnvFloatOrDefault("ALPHA", 0.05),
		Seed:                  uint64(getEnvIntOrDefault("SEED", 42)),
	}
}

func loadSessionConfig() *SessionConfig {
	return &SessionConfig{
		TTL:         getEnvDurationOrDefault("SESSION_TTL", time.Hour),
		MaxSessions: getEnvIntOrDefault("MAX_SESSIONS", 64),
	}
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
