// Package logging provides HostBridge's ambient logger: a thin wrapper over
// log/slog with an env-gated debug mode, in the style of the debug
// package this project grew out of.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
)

var (
	mu      sync.Mutex
	debug   = os.Getenv("HOSTBRIDGE_DEBUG") != ""
	base    = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
)

func init() {
	if debug {
		SetDebug(true)
	}
}

// Enabled reports whether debug-level logging is active.
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return debug
}

// SetDebug toggles debug-level logging at runtime (e.g. from a --debug flag).
func SetDebug(on bool) {
	mu.Lock()
	defer mu.Unlock()
	debug = on
	level := slog.LevelInfo
	if on {
		level = slog.LevelDebug
	}
	base = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Logger returns the process-wide structured logger. Components should add
// their own "component" attribute: logging.Logger().With("component", "txqueue").
func Logger() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return base
}

// Debugf logs a formatted debug line, matching the terse style of a
// printf-based debug trace, only when debug mode is enabled.
func Debugf(format string, args ...any) {
	if !Enabled() {
		return
	}
	Logger().Debug(fmt.Sprintf(format, args...))
}
