// Package observability provides structured logging and Prometheus metrics
// for the orchestrator and its collaborators.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Logger provides structured logging with sensitive-data redaction.
//
// Built on Go's slog package:
//   - Configurable log levels (debug, info, warn, error)
//   - JSON output for production, text for development
//   - Session ID correlation from context
//   - Redaction of API keys and bot tokens before they reach a sink
type Logger struct {
	logger  *slog.Logger
	redacts []*regexp.Regexp
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string

	// Format specifies output format: "json" or "text".
	Format string

	// Output is the writer for log output (defaults to os.Stdout).
	Output io.Writer

	// RedactPatterns are additional regexes for sensitive data redaction.
	RedactPatterns []string
}

// ContextKey is the type for context keys used in logging.
type ContextKey string

// SessionIDKey is the context key for session IDs.
const SessionIDKey ContextKey = "session_id"

// DefaultRedactPatterns covers the secrets this process handles: LLM API
// keys, Telegram bot tokens, and generic bearer tokens.
var DefaultRedactPatterns = []string{
	`sk-ant-[a-zA-Z0-9_-]{16,}`,
	`sk-[a-zA-Z0-9]{20,}`,
	`\b\d{8,10}:[a-zA-Z0-9_-]{35}\b`,
	`(?i)(bearer|token|api[_-]?key)[\s:=]+["']?([a-zA-Z0-9_\-\.]{16,})["']?`,
}

// NewLogger creates a structured logger with the given configuration.
// Empty Level defaults to "info"; empty Format defaults to "json".
func NewLogger(config LogConfig) *Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}

	var level slog.Level
	switch strings.ToLower(config.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(config.Format) == "text" {
		handler = slog.NewTextHandler(config.Output, opts)
	} else {
		handler = slog.NewJSONHandler(config.Output, opts)
	}

	redacts := make([]*regexp.Regexp, 0, len(DefaultRedactPatterns)+len(config.RedactPatterns))
	for _, pattern := range append(append([]string{}, DefaultRedactPatterns...), config.RedactPatterns...) {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}

	return &Logger{
		logger:  slog.New(handler),
		redacts: redacts,
	}
}

// NewNopLogger returns a logger that discards everything. Used in tests.
func NewNopLogger() *Logger {
	return NewLogger(LogConfig{Output: io.Discard})
}

// With returns a logger with the given attributes attached to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		logger:  l.logger.With(args...),
		redacts: l.redacts,
	}
}

// Debug logs a debug-level message with optional key-value pairs.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}

// Info logs an info-level message with optional key-value pairs.
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}

// Warn logs a warning-level message with optional key-value pairs.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}

// Error logs an error-level message with optional key-value pairs.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	msg = l.redactString(msg)

	attrs := make([]any, 0, len(args)+2)
	if sessionID, ok := ctx.Value(SessionIDKey).(string); ok && sessionID != "" {
		attrs = append(attrs, slog.String("session_id", sessionID))
	}
	for i := 0; i < len(args); i++ {
		attrs = append(attrs, l.redactValue(args[i]))
	}

	l.logger.Log(ctx, level, msg, attrs...)
}

func (l *Logger) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return l.redactString(val)
	case error:
		if val == nil {
			return v
		}
		return l.redactString(val.Error())
	default:
		return v
	}
}

func (l *Logger) redactString(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// Slog exposes the underlying slog.Logger for libraries that want one.
func (l *Logger) Slog() *slog.Logger {
	return l.logger
}

// WithSessionID stores a session ID in the context for log correlation.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// FormatError renders an error for user-facing notices without leaking
// redactable material.
func (l *Logger) FormatError(err error) string {
	if err == nil {
		return ""
	}
	return l.redactString(fmt.Sprintf("%v", err))
}
