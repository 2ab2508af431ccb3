// Package logging provides two loggers.
//
// NewZap builds the structured JSON logger the service uses for its own
// operational logs. Hub and Logger implement leveled console logging for
// application code: eight severities, a hub-wide override level, three sinks
// (errors, warnings, everything else) and optional registration in a
// registry.Registry so loggers can be reconfigured while running.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewZap creates a production-ready structured logger configured for JSON
// output at the given level ("debug", "info", "warn", "error"; empty means info).
func NewZap(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.StacktraceKey = "stacktrace"
	cfg.DisableStacktrace = false

	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		cfg.Level = lvl
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
