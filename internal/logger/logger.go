// Package logger builds the application's slog logger and provides attribute
// helpers so call sites stay short and consistent.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// New creates a logger writing to stderr. Format is "json" or "text" (default).
func New(level, format string) *slog.Logger {
	return NewWithWriter(os.Stderr, level, format)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// Discard returns a logger that drops everything. Used as the nil-safe default.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps a level name to slog.Level, falling back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Error returns an empty Attr for nil errors so callers can skip nil checks.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Component tags the subsystem emitting the record.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Command tags the route/command name.
func Command(name string) slog.Attr {
	return slog.String("command", name)
}

// Source tags where a command came from (http, scheduler, script, mqtt).
func Source(source string) slog.Attr {
	return slog.String("source", source)
}

// RequestID returns an empty Attr when id is blank.
func RequestID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("request_id", id)
}

// EventID returns an empty Attr when id is blank.
func EventID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("event_id", id)
}

func Method(method string) slog.Attr {
	return slog.String("method", method)
}

func Path(path string) slog.Attr {
	return slog.String("path", path)
}

func StatusCode(code int) slog.Attr {
	return slog.Int("status_code", code)
}

func Latency(d time.Duration) slog.Attr {
	return slog.Duration("latency", d)
}

func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}
