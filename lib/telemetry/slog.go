package telemetry

import (
	"log/slog"
	"os"
)

// InitSlog installs the process-wide logger. Call it exactly once at
// process entry, never from library code.
func InitSlog(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}
