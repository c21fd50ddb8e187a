// Package logger provides the structured logging used across cdsetool-go.
//
// It wraps a zap.SugaredLogger behind package-level functions so callers
// never reach for the stdlib log package: logger.Initialize() sets up the
// encoder once, and Debugf/Infof/Warnf/Errorf route through it.
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.Mutex
	sugar  *zap.SugaredLogger
	inited bool
)

// Initialize sets up the global logger. Safe to call more than once; only
// the first call takes effect. Debug-level output (and development
// console encoding) is enabled when CDSETOOL_DEBUG is set to any non-empty
// value.
func Initialize() {
	mu.Lock()
	defer mu.Unlock()
	if inited {
		return
	}
	inited = true

	debug := os.Getenv("CDSETOOL_DEBUG") != ""

	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Fall back to a no-frills logger rather than panicking the CLI.
		l = zap.NewNop()
	}
	sugar = l.Sugar()
}

func get() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	if sugar == nil {
		inited = true
		sugar = zap.NewExample().Sugar()
	}
	return sugar
}

// Debugf logs a formatted debug-level message.
func Debugf(format string, args ...interface{}) { get().Debugf(format, args...) }

// Infof logs a formatted info-level message.
func Infof(format string, args ...interface{}) { get().Infof(format, args...) }

// Warnf logs a formatted warning-level message.
func Warnf(format string, args ...interface{}) { get().Warnf(format, args...) }

// Errorf logs a formatted error-level message.
func Errorf(format string, args ...interface{}) { get().Errorf(format, args...) }

// Sync flushes any buffered log entries. Call before process exit.
func Sync() {
	if l := get(); l != nil {
		_ = l.Sync()
	}
}
