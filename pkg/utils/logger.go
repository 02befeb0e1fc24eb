package utils

import (
	"strings"

	"go.uber.org/zap"
)

// NewLogger returns a zap logger. When debug is true, uses development config
// (human-readable, debug level); otherwise uses production config (JSON, info level).
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// NewAppLogger returns a logger for the given APP_ENV. Development environments
// get the human-readable config; debug raises a production logger to debug level.
func NewAppLogger(appEnv string, debug bool) (*zap.Logger, error) {
	switch strings.ToLower(appEnv) {
	case "", "dev", "development", "local":
		return NewLogger(true)
	}
	if !debug {
		return NewLogger(false)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	return cfg.Build()
}
