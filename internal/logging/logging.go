// Package logging builds the slog logger shared by the CLI, the swap
// orchestrator, and the git adapter.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Config controls where the logger writes and how much.
type Config struct {
	// Writer receives log output. Defaults to os.Stderr.
	Writer io.Writer

	// Debug enables step progress and every git command. Without it only
	// warnings and errors are written.
	Debug bool
}

// New returns a text logger for cfg. Timestamps are dropped: the output is
// read by a person watching one short command, not collected.
func New(cfg Config) *slog.Logger {
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}

	level := slog.LevelWarn
	if cfg.Debug {
		level = slog.LevelDebug
	}

	h := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	})
	return slog.New(h)
}

// Discard returns a logger that writes nothing.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
