package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Fields is a flat set of metadata attached to a log line
type Fields map[string]any

// Logger is the logging contract consumed by the cache, the rate limiter and the handlers
type Logger interface {
	Debug(msg string, meta Fields)
	Info(msg string, meta Fields)
	Warn(msg string, meta Fields)
	Error(msg string, meta Fields)
}

// slogLogger adapts a slog.Logger to Logger
type slogLogger struct {
	l *slog.Logger
}

// New creates a Logger writing through the given slog handler
func New(h slog.Handler) Logger {
	return &slogLogger{l: slog.New(h)}
}

// NewJSON creates a JSON Logger writing to w at the given level
func NewJSON(w io.Writer, level slog.Level) Logger {
	return New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Default returns a Logger backed by slog.Default()
func Default() Logger {
	return &slogLogger{l: slog.Default()}
}

// FromEnvLevel creates a JSON Logger on stderr for a textual level
func FromEnvLevel(level string) Logger {
	return NewJSON(os.Stderr, ParseLevel(level))
}

func (s *slogLogger) Debug(msg string, meta Fields) { s.log(slog.LevelDebug, msg, meta) }
func (s *slogLogger) Info(msg string, meta Fields)  { s.log(slog.LevelInfo, msg, meta) }
func (s *slogLogger) Warn(msg string, meta Fields)  { s.log(slog.LevelWarn, msg, meta) }
func (s *slogLogger) Error(msg string, meta Fields) { s.log(slog.LevelError, msg, meta) }

func (s *slogLogger) log(level slog.Level, msg string, meta Fields) {
	ctx := context.Background()
	if !s.l.Enabled(ctx, level) {
		return
	}
	attrs := make([]slog.Attr, 0, len(meta))
	for k, v := range meta {
		attrs = append(attrs, slog.Any(k, v))
	}
	s.l.LogAttrs(ctx, level, msg, attrs...)
}

// ParseLevel parses a textual log level, defaulting to info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

type nopLogger struct{}

func (nopLogger) Debug(string, Fields) {}
func (nopLogger) Info(string, Fields)  {}
func (nopLogger) Warn(string, Fields)  {}
func (nopLogger) Error(string, Fields) {}

// Nop returns a Logger that discards everything
func Nop() Logger {
	return nopLogger{}
}

// OrNop returns l, or a Nop logger when l is nil
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// Mask hides the middle of an identifier or cache key so it can be logged.
// Values of six runes or fewer are fully masked.
func Mask(s string) string {
	r := []rune(s)
	if len(r) <= 6 {
		return strings.Repeat("*", len(r))
	}
	return string(r[:3]) + "***" + string(r[len(r)-3:])
}
