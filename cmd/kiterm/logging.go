package main

import (
	"log/slog"
	"os"
	"strings"
)

// setupLogger installs the default slog logger. Diagnostics go to
// stderr so they never interleave with streamed completion text on
// stdout, and timestamps are dropped: kiterm runs are short-lived
// interactive commands where the wall clock adds nothing.
func setupLogger(level string) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})
	slog.SetDefault(slog.New(handler))
}

// parseLogLevel maps a level string (case-insensitive) to its slog
// level. Unknown strings fall back to warn, the CLI default.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
