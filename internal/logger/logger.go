// Package logger wraps the zap logger shared by the binaries.
package logger

import (
	"strings"

	"go.uber.org/zap"
)

// Logger holds the process-wide zap logger. Log is a no-op logger until
// Init succeeds.
type Logger struct {
	Log *zap.Logger
}

// New returns a Logger backed by zap.NewNop.
func New() *Logger {
	return &Logger{Log: zap.NewNop()}
}

// Init replaces Log with a production logger at level.
func (l *Logger) Init(level string) error {
	lvl, err := zap.ParseAtomicLevel(strings.ToLower(level))
	if err != nil {
		return err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = lvl

	zl, err := cfg.Build()
	if err != nil {
		return err
	}
	l.Log = zl
	return nil
}
