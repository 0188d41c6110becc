// Package logging configures the process-wide structured logger.
package logging

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Options controls logger construction.
type Options struct {
	Level   slog.Level
	NoColor bool
}

// New returns a logger writing to stderr. When stderr is a terminal the
// tint handler produces colorized output; otherwise a plain text handler
// is used so daemon logs stay grep-friendly.
func New(opts Options) *slog.Logger {
	w := os.Stderr
	if isatty.IsTerminal(w.Fd()) && !opts.NoColor {
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      opts.Level,
			TimeFormat: time.Kitchen,
		}))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: opts.Level}))
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
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
