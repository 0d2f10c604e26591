// Package logging builds slog loggers from configuration.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format represents the output format for logs
type Format string

const (
	// JSONFormat outputs logs as JSON
	JSONFormat Format = "json"
	// TextFormat outputs logs in human-readable format
	TextFormat Format = "text"
)

// Config holds logger configuration
type Config struct {
	Format Format
	Level  string
	Output io.Writer // Optional, defaults to stderr
}

// NewLogger creates a structured logger with the given configuration.
func NewLogger(config Config) *slog.Logger {
	writer := config.Output
	if writer == nil {
		writer = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: parseLevel(config.Level)}

	var handler slog.Handler
	if config.Format == JSONFormat {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	return slog.New(handler)
}

// Discard returns a logger that drops everything. Used in tests and
// commands that render their own output.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
