// Package logger builds the zap logger used by the cyx CLI.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvLevel names the environment variable consulted when no level is given.
const EnvLevel = "CYX_LOG_LEVEL"

// DefaultLevel keeps the CLI quiet unless something goes wrong.
const DefaultLevel = zapcore.WarnLevel

// ParseLevel converts a level name (case-insensitive) into a zap level. An
// empty name yields DefaultLevel.
func ParseLevel(s string) (zapcore.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return DefaultLevel, fmt.Errorf("parse log level %q: %w", s, err)
	}
	return lvl, nil
}

// LevelFromEnv reads CYX_LOG_LEVEL, falling back to DefaultLevel when it is
// unset or invalid.
func LevelFromEnv() zapcore.Level {
	lvl, err := ParseLevel(os.Getenv(EnvLevel))
	if err != nil {
		return DefaultLevel
	}
	return lvl
}

// New returns a console logger writing to stderr. An empty level defers to
// CYX_LOG_LEVEL.
func New(level string) (*zap.Logger, error) {
	return NewWithWriter(level, os.Stderr)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(level string, w io.Writer) (*zap.Logger, error) {
	lvl := LevelFromEnv()
	if level != "" {
		var err error
		if lvl, err = ParseLevel(level); err != nil {
			return nil, err
		}
	}

	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), lvl)
	return zap.New(core), nil
}
