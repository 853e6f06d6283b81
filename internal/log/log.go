// Package log is the daemon's leveled key-value logger. All components log
// through it so output stays greppable line-oriented text on stderr.
package log

import (
	"log/slog"
	"os"
	"sync"
)

var (
	level  slog.LevelVar
	logger *slog.Logger
	once   sync.Once
)

func get() *slog.Logger {
	once.Do(func() {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))
	})
	return logger
}

// SetDebug enables debug-level output.
func SetDebug(enabled bool) {
	if enabled {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}
}

func Debug(msg string, kv ...any) {
	get().Debug(msg, kv...)
}

func Info(msg string, kv ...any) {
	get().Info(msg, kv...)
}

// Error logs msg with err prepended to the key-value pairs.
func Error(msg string, err error, kv ...any) {
	get().Error(msg, append([]any{"err", err}, kv...)...)
}
