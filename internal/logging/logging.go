// Package logging builds the zap logger shared by the server and the CLI.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects verbosity and encoding
type Config struct {
	Level       string
	Development bool
}

// ParseLevel maps LOG_LEVEL values (ERROR, WARN, INFO, DEBUG, TRACE) to zap levels.
// TRACE has no zap equivalent and logs at debug.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return zapcore.ErrorLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "DEBUG", "TRACE":
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// New creates a JSON production logger, or a console logger in development mode
func New(cfg Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(ParseLevel(cfg.Level))
	return zc.Build()
}

// Must is New that falls back to a no-op logger on error
func Must(cfg Config) *zap.Logger {
	logger, err := New(cfg)
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
