// Package log configures the process-wide structured logger shared by the
// automation binaries.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs the default logger. Unrecognized levels fall back to info;
// LOG_FORMAT=json switches to JSON output for log shippers.
func Setup(logLevel string) {
	options := &slog.HandlerOptions{Level: parseLevel(logLevel)}

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, options)
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}

	slog.SetDefault(slog.New(handler).With("app", "automation"))
}

func parseLevel(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
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

// WithModule scopes the default logger to one subsystem. Every package logs
// through a module-scoped logger so run traces can be filtered per component.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
