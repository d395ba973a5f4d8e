// Package logger holds the process-wide zap logger.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process logger. It is nil until Init succeeds; use L for a nil-safe accessor.
var Log *zap.Logger

// Init builds Log. With a log file it uses the production JSON encoder writing to
// the file and stdout, otherwise the development console encoder.
func Init(level string, logFile string) error {
	var config zap.Config

	if logFile != "" {
		config = zap.NewProductionConfig()
		config.OutputPaths = []string{logFile, "stdout"}
	} else {
		config = zap.NewDevelopmentConfig()
	}
	config.Level = zap.NewAtomicLevelAt(ParseLevel(level))

	built, err := config.Build()
	if err != nil {
		return err
	}
	Log = built

	return nil
}

// ParseLevel maps a level name to a zap level. Unknown names map to info.
func ParseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// L returns Log, or a no-op logger before Init has run.
func L() *zap.Logger {
	if Log == nil {
		return zap.NewNop()
	}
	return Log
}

// Named returns a child of L scoped to a component.
func Named(component string) *zap.Logger {
	return L().Named(component)
}

// Sync flushes any buffered entries.
func Sync() error {
	if Log != nil {
		return Log.Sync()
	}
	return nil
}
