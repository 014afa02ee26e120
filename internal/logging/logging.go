// Package logging builds the structured loggers the runtime's components
// take as an explicit dependency, following the *slog.Logger field
// convention used throughout goatflow's internal/plugin/hostapi_prod.go
// rather than reaching for the package-level default at call sites.
package logging

import (
	"log/slog"
	"os"
)

// Options configures the process-wide base logger.
type Options struct {
	Level  slog.Level
	JSON   bool
	Output *os.File
}

// New builds a *slog.Logger per Options. Callers at each component boundary
// (pool, broker, runner, loader) should derive a child via With(...) rather
// than passing this root around untagged.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}
	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}
	return slog.New(handler)
}

// LevelFromString parses the honored PLUGINRT_LOG_LEVEL env var value
// (spec.md §6, "Environment variables the core honors"). Unknown values
// default to info.
func LevelFromString(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
