// Package logging provides structured logging helpers for the ingestor.
//
// Loggers are dependency-injected, never global. A component receives a
// *slog.Logger at construction, scopes it once with
// logger.With("component", ...), and keeps it for its lifetime. Handler
// configuration (format, level, destination) happens only in main; nothing
// below main calls slog.SetDefault.
//
// Log points are lifecycle boundaries and failures. Per-line and per-chunk
// work is never logged.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

// discardHandler drops every record.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Discard returns a logger that drops all output.
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// Default returns logger if non-nil, otherwise a discard logger. The
// standard pattern for optional logger parameters:
//
//	func New(logger *slog.Logger) *Watcher {
//	    logger = logging.Default(logger)
//	    return &Watcher{logger: logger.With("component", "watcher")}
//	}
func Default(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return Discard()
}

// New builds a logger writing to w. level is one of debug/info/warn/error
// (case-insensitive, default info); format is "json" or "text" (default
// text). Unrecognized values fall back to the defaults rather than failing:
// a service should not refuse to start over a logging knob.
func New(w io.Writer, level, format string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
