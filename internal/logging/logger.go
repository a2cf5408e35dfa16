// Package logging wraps zap for the basicproto tools.
//
// Logging is silent unless a level is given explicitly or through the
// BASICPROTO_LOG_LEVEL environment variable. Frame-level traffic is logged at
// debug level as hex so protocol desynchronisation can be diagnosed from a
// capture.
package logging

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// LogLevelEnvVar is the environment variable consulted when no level is given.
// Valid values: "debug", "info", "warn", "error".
const LogLevelEnvVar = "BASICPROTO_LOG_LEVEL"

// Initialize creates the global logger with the specified level.
// An empty level falls back to BASICPROTO_LOG_LEVEL; if that is also empty
// the logger is a no-op.
func Initialize(level string) error {
	if level == "" {
		level = os.Getenv(LogLevelEnvVar)
	}

	if level == "" {
		logger = zap.NewNop()
		return nil
	}

	zapLevel, err := ParseLevel(level)
	if err != nil {
		return err
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	logger, err = config.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	return nil
}

// ParseLevel maps a level name to a zap level.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// GetLogger returns the global logger instance.
func GetLogger() *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger
}

// Named returns a child of the global logger tagged with a component name.
func Named(name string) *zap.Logger {
	return GetLogger().Named(name)
}

// Sync flushes buffered log entries.
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}

// Frame returns the fields used to log a raw wire frame.
func Frame(data []byte) []zap.Field {
	return []zap.Field{
		zap.Int("length", len(data)),
		zap.String("hex", hex.EncodeToString(data)),
		zap.String("ascii", asciiDump(data)),
	}
}

func asciiDump(data []byte) string {
	var sb strings.Builder
	sb.Grow(len(data))
	for _, b := range data {
		if b >= 0x20 && b < 0x7f {
			sb.WriteByte(b)
		} else {
			sb.WriteByte('.')
		}
	}
	return sb.String()
}
