// Package logging provides structured logging for WaveSync using slog.
// It mirrors the teacher's dual-handler approach: a JSON log file for
// machine consumption (rotated through lumberjack) and a human-readable
// text stream on stdout for operators watching the transmitter/receiver
// run live.
package logging

import (
	"log/slog"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu          sync.RWMutex
	structured  *slog.Logger
	console     *slog.Logger
	level       = new(slog.LevelVar)
	initialized bool
)

// Options configures Init.
type Options struct {
	// LogFilePath, if non-empty, receives rotated JSON logs. If empty,
	// only the console logger is configured.
	LogFilePath string
	Debug       bool
}

// Init sets up the package-level loggers. Safe to call more than once;
// each call replaces the previous handlers.
func Init(opts Options) {
	mu.Lock()
	defer mu.Unlock()

	if opts.Debug {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	console = slog.New(slog.NewTextHandler(os.Stdout, handlerOpts))

	if opts.LogFilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.LogFilePath,
			MaxSize:    50, // MB
			MaxBackups: 3,
			MaxAge:     7, // days
		}
		structured = slog.New(slog.NewJSONHandler(lj, handlerOpts))
	} else {
		structured = console
	}

	slog.SetDefault(structured)
	initialized = true
}

// IsInitialized reports whether Init has run.
func IsInitialized() bool {
	mu.RLock()
	defer mu.RUnlock()
	return initialized
}

// SetLevel adjusts the dynamic log level shared by both handlers.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// ForComponent returns a logger tagged with "component" = name. Falls
// back to slog.Default() if Init has not been called, so packages can log
// safely during early startup or in tests.
func ForComponent(name string) *slog.Logger {
	mu.RLock()
	logger := structured
	mu.RUnlock()

	if logger == nil {
		return slog.Default().With("component", name)
	}
	return logger.With("component", name)
}

// Console returns the human-readable logger, e.g. for the periodic status
// lines that operators watch interactively.
func Console() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if console == nil {
		return slog.Default()
	}
	return console
}
