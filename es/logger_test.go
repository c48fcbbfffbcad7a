package es_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/getpup/pupstream/es"
)

// TestNoOpLogger verifies the NoOpLogger doesn't panic.
func TestNoOpLogger(t *testing.T) {
	ctx := context.Background()
	logger := es.NoOpLogger{}

	logger.Debug(ctx, "debug message", "key", "value")
	logger.Info(ctx, "info message", "key", "value")
	logger.Error(ctx, "error message", "key", "value")
}

func TestLoggerInterface(t *testing.T) {
	var _ es.Logger = es.NoOpLogger{}
	var _ es.Logger = (*es.SlogLogger)(nil)
}

func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := es.NewSlogLogger(slog.New(handler))
	ctx := context.Background()

	logger.Debug(ctx, "staged", "staging_id", "abc")
	logger.Info(ctx, "published", "entry_count", 3)
	logger.Error(ctx, "failed", "error", "boom")

	out := buf.String()
	for _, want := range []string{
		"level=DEBUG msg=staged staging_id=abc",
		"level=INFO msg=published entry_count=3",
		"level=ERROR msg=failed error=boom",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestNewSlogLoggerDefaultsWhenNil(t *testing.T) {
	if es.NewSlogLogger(nil) == nil {
		t.Fatal("expected a logger")
	}
}
