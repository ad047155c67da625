// Package logging initializes the structured loggers shared by all
// pipeline stages. Each stage runs as its own process, so loggers are
// configured once at startup from the loaded settings.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/aviarylab/birdstation/internal/conf"
)

var structuredLogger *slog.Logger

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

// Add trace and fatal level names.
var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelFatal: "FATAL",
}

func replaceLevelNames(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level := a.Value.Any().(slog.Level)
		levelLabel, exists := levelNames[level]
		if !exists {
			levelLabel = level.String()
		}
		a.Value = slog.StringValue(levelLabel)
	}
	return a
}

// Init initializes the logging system with a structured JSON logger on
// stdout and sets it as the process default.
func Init(level slog.Level) {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelNames,
	})
	structuredLogger = slog.New(handler)
	slog.SetDefault(structuredLogger)
}

// Structured returns the globally configured structured logger.
// Returns nil if Init() has not been called.
func Structured() *slog.Logger {
	return structuredLogger
}

// ForStage creates a new logger instance with the 'stage' attribute added.
// It uses the global structured logger as the base.
func ForStage(stage string) *slog.Logger {
	if structuredLogger == nil {
		Init(slog.LevelInfo)
	}
	return structuredLogger.With("stage", stage)
}

// Fatal logs a fatal message using the custom Fatal level and then exits.
func Fatal(msg string, args ...any) {
	slog.Log(context.TODO(), LevelFatal, msg, args...)
	os.Exit(1)
}

// Trace logs a trace message using the custom Trace level.
func Trace(msg string, args ...any) {
	slog.Log(context.TODO(), LevelTrace, msg, args...)
}

// StageLogger returns the logger a stage process should use: a rotated
// file logger when file logging is enabled in the settings, otherwise the
// shared stdout logger. The returned close function is a no-op for the
// stdout case.
func StageLogger(settings *conf.Settings, stage string) (*slog.Logger, func() error, error) {
	level := slog.LevelInfo
	if settings.Debug {
		level = slog.LevelDebug
	}

	if settings.Main.Log.Enabled {
		return NewFileLogger(settings.Main.Log.Path, stage, level)
	}

	return ForStage(stage), func() error { return nil }, nil
}

// NewFileLogger creates a slog.Logger writing JSON logs to the given file
// path with lumberjack handling rotation. It includes a 'stage' attribute
// in all records and returns the logger plus a close function for the
// underlying writer.
func NewFileLogger(filePath, stage string, level slog.Level) (*slog.Logger, func() error, error) {
	// lumberjack does not create directories
	logDir := filepath.Dir(filePath)
	if logDir != "." {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}
	}

	logWriter := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    100, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   false,
	}

	fileHandler := slog.NewJSONHandler(logWriter, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelNames,
	})

	logger := slog.New(fileHandler).With("stage", stage)

	return logger, logWriter.Close, nil
}
