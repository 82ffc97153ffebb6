package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LevelFatal sits above slog's error level so handlers can render it separately
const LevelFatal = slog.LevelError + 4

// Logger defines the interface for structured logging
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Field represents a structured logging field
type Field struct {
	Key   string
	Value any
}

// String creates a string field
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an integer field
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Int64 creates an int64 field
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Float64 creates a float64 field
func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a boolean field
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration creates a duration field
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Error creates an error field
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: "<nil>"}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Any creates a field with any value
func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Config contains configuration for logging
type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// StructuredLogger implements Logger on top of log/slog
type StructuredLogger struct {
	logger *slog.Logger
	level  *slog.LevelVar
	exit   func(int)
}

// NewStructuredLogger creates a new structured logger
func NewStructuredLogger(config Config) *StructuredLogger {
	var output io.Writer = os.Stdout
	if config.Output == "stderr" {
		output = os.Stderr
	}
	return NewStructuredLoggerWithWriter(config, output)
}

// NewStructuredLoggerWithWriter creates a structured logger writing to the given writer
func NewStructuredLoggerWithWriter(config Config, output io.Writer) *StructuredLogger {
	level := new(slog.LevelVar)
	level.Set(ParseLevel(config.Level))

	var handler slog.Handler
	switch config.Format {
	case "json":
		handler = slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level})
	default:
		handler = NewColorTextHandler(output, level)
	}

	return &StructuredLogger{
		logger: slog.New(handler),
		level:  level,
		exit:   os.Exit,
	}
}

// ParseLevel converts string log level to a slog level
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "fatal":
		return LevelFatal
	default:
		return slog.LevelInfo
	}
}

// Debug logs a debug message
func (l *StructuredLogger) Debug(msg string, fields ...Field) {
	l.log(slog.LevelDebug, msg, fields)
}

// Info logs an info message
func (l *StructuredLogger) Info(msg string, fields ...Field) {
	l.log(slog.LevelInfo, msg, fields)
}

// Warn logs a warning message
func (l *StructuredLogger) Warn(msg string, fields ...Field) {
	l.log(slog.LevelWarn, msg, fields)
}

// Error logs an error message
func (l *StructuredLogger) Error(msg string, fields ...Field) {
	l.log(slog.LevelError, msg, fields)
}

// Fatal logs a fatal message and exits
func (l *StructuredLogger) Fatal(msg string, fields ...Field) {
	l.log(LevelFatal, msg, fields)
	l.exit(1)
}

// With creates a new logger with additional fields
func (l *StructuredLogger) With(fields ...Field) Logger {
	return &StructuredLogger{
		logger: l.logger.With(attrs(fields)...),
		level:  l.level,
		exit:   l.exit,
	}
}

// SetLevel sets the minimum log level
func (l *StructuredLogger) SetLevel(level slog.Level) {
	l.level.Set(level)
}

// GetLevel returns the current log level
func (l *StructuredLogger) GetLevel() slog.Level {
	return l.level.Level()
}

// Slog exposes the underlying slog logger for libraries that want one
func (l *StructuredLogger) Slog() *slog.Logger {
	return l.logger
}

func (l *StructuredLogger) log(level slog.Level, msg string, fields []Field) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	l.logger.LogAttrs(ctx, level, msg, toAttrs(fields)...)
}

func toAttrs(fields []Field) []slog.Attr {
	out := make([]slog.Attr, 0, len(fields))
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

func attrs(fields []Field) []any {
	out := make([]any, 0, len(fields))
	for _, a := range toAttrs(fields) {
		out = append(out, a)
	}
	return out
}

// DefaultLogger creates a text logger at info level
func DefaultLogger() Logger {
	return NewStructuredLogger(Config{Level: "info", Format: "text", Output: "stdout"})
}

// NullLogger creates a logger that discards all output (useful for testing)
func NullLogger() Logger {
	logger := NewStructuredLoggerWithWriter(Config{Level: "fatal", Format: "json"}, io.Discard)
	logger.exit = func(int) {}
	return logger
}
