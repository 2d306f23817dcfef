// Package observability holds the collector's logging, metric and
// credential-scrubbing helpers.
package observability

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// DefaultLogLevel keeps the collector quiet unless something is wrong.
const DefaultLogLevel = slog.LevelWarn

// ParseLevel maps error|warn|warning|info|debug to a slog level. Empty input
// yields DefaultLogLevel.
func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return DefaultLogLevel, nil
	case "error":
		return slog.LevelError, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	default:
		return DefaultLogLevel, fmt.Errorf("unknown log level %q", raw)
	}
}

// NewLogger builds a text or JSON slog logger writing to w. Every record
// carries component=ongoingai-collector so host application logs can be
// filtered.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return slog.New(handler).With("component", "ongoingai-collector"), nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
