// ABOUTME: Structured logging setup on zap with lumberjack file rotation
// ABOUTME: The TUI logs to the file only; headless runs also log to the console
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config defines logger configuration
type Config struct {
	Level string // debug, info, warn or error

	// File is the rotated log path; empty disables file output
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Console receives human-readable output; nil disables it
	Console io.Writer
}

// ParseLevel maps a level name to a zap level, defaulting to info
func ParseLevel(name string) (zapcore.Level, error) {
	if name == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
}

// New builds a logger. The returned function flushes and closes the file.
func New(config Config) (*zap.Logger, func() error, error) {
	level, err := ParseLevel(config.Level)
	if err != nil {
		return nil, nil, err
	}

	var cores []zapcore.Core
	var rotator *lumberjack.Logger

	if config.Console != nil {
		enc := encoderConfig()
		enc.EncodeLevel = zapcore.CapitalLevelEncoder
		enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(enc),
			zapcore.AddSync(config.Console),
			level,
		))
	}

	if config.File != "" {
		if dir := filepath.Dir(config.File); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		rotator = &lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    withDefault(config.MaxSizeMB, 10),
			MaxBackups: withDefault(config.MaxBackups, 3),
			MaxAge:     withDefault(config.MaxAgeDays, 28),
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig()),
			zapcore.AddSync(rotator),
			level,
		))
	}

	if len(cores) == 0 {
		return zap.NewNop(), func() error { return nil }, nil
	}

	log := zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)

	closeFn := func() error {
		_ = log.Sync()
		if rotator != nil {
			return rotator.Close()
		}
		return nil
	}
	return log, closeFn, nil
}

func withDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
