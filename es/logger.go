package es

import (
	"context"
	"log/slog"
)

// Logger is the logging surface every component accepts.
// Components skip logging entirely when their Logger is nil.
type Logger interface {
	// Debug logs verbose operational details, e.g. per-entry publish steps.
	Debug(ctx context.Context, msg string, keyvals ...interface{})

	// Info logs significant events such as a completed reconciliation pass.
	Info(ctx context.Context, msg string, keyvals ...interface{})

	// Error logs failures that require attention.
	Error(ctx context.Context, msg string, keyvals ...interface{})
}

// NoOpLogger discards everything.
type NoOpLogger struct{}

// Debug implements Logger.
func (NoOpLogger) Debug(_ context.Context, _ string, _ ...interface{}) {}

// Info implements Logger.
func (NoOpLogger) Info(_ context.Context, _ string, _ ...interface{}) {}

// Error implements Logger.
func (NoOpLogger) Error(_ context.Context, _ string, _ ...interface{}) {}

// SlogLogger adapts a *slog.Logger to Logger.
type SlogLogger struct {
	inner *slog.Logger
}

// NewSlogLogger wraps l. A nil l uses slog.Default().
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{inner: l}
}

// Debug implements Logger.
func (l *SlogLogger) Debug(ctx context.Context, msg string, keyvals ...interface{}) {
	l.inner.DebugContext(ctx, msg, keyvals...)
}

// Info implements Logger.
func (l *SlogLogger) Info(ctx context.Context, msg string, keyvals ...interface{}) {
	l.inner.InfoContext(ctx, msg, keyvals...)
}

// Error implements Logger.
func (l *SlogLogger) Error(ctx context.Context, msg string, keyvals ...interface{}) {
	l.inner.ErrorContext(ctx, msg, keyvals...)
}
