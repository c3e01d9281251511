// Package logging wires up the operational slog logger for perturbd.
// Output goes to stderr by default so anything piped from stdout
// stays clean.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Level aliases slog.Level so callers never import both packages.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Format selects the handler encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Config controls the logger built by New.
type Config struct {
	// Level is the minimum level emitted.
	Level Level

	// Format picks the text or json handler.
	Format Format

	// Output receives log lines. Nil means os.Stderr.
	Output io.Writer
}

// New builds a slog.Logger from cfg. Unknown formats get the text
// handler.
func New(cfg Config) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: cfg.Level}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(cfg.Output, opts)
	default:
		handler = slog.NewTextHandler(cfg.Output, opts)
	}

	return slog.New(handler)
}

// Nop returns a logger that discards everything. Handy where a logger
// is required but its output would be noise, tests mostly.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps a config string to a Level. Upper- and lower-case
// spellings of debug, info, warn/warning and error are accepted;
// anything else, the empty string included, means info.
func ParseLevel(s string) Level {
	switch s {
	case "debug", "DEBUG":
		return LevelDebug
	case "warn", "WARN", "warning", "WARNING":
		return LevelWarn
	case "error", "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// ParseFormat maps a config string to a Format, defaulting to text.
func ParseFormat(s string) Format {
	if s == "json" || s == "JSON" {
		return FormatJSON
	}
	return FormatText
}
