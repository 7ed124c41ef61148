// Package logging builds the coordinator's component-tagged zap loggers.
// There is no package-level singleton: every constructor across the
// coordinator takes a *zap.Logger explicitly, and this package only
// centralizes how the root logger and its derived children are built.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// levelFor maps the config document's 0-4 severity threshold (spec §6.4)
// onto a zapcore.Level.
func levelFor(logLevel int) zapcore.Level {
	switch logLevel {
	case 0:
		return zapcore.DebugLevel
	case 1:
		return zapcore.InfoLevel
	case 2:
		return zapcore.WarnLevel
	case 3:
		return zapcore.ErrorLevel
	default:
		return zapcore.DPanicLevel
	}
}

// New builds the coordinator's root logger at the configured severity
// threshold, writing structured JSON to stderr.
func New(logLevel int) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(levelFor(logLevel))
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// Component returns a child logger tagged with the owning package/role,
// e.g. logging.Component(root, "stratum.runner", zap.Int("source_id", 3)).
func Component(root *zap.Logger, name string, fields ...zap.Field) *zap.Logger {
	return root.Named(name).With(fields...)
}
