package logging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"actorcore/internal/config"
)

func TestNewWritesJSONLinesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.log")
	logger, err := New(config.LoggingConfig{
		Level: "debug", Path: path, MaxSizeMB: 10, MaxBackups: 1, MaxAgeDays: 1, Compress: false,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hello", String("key", "value"))
	if err := logger.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"key":"value"`) {
		t.Fatalf("expected structured field in log line, got %q", string(data))
	}
	if !strings.Contains(string(data), `"message":"hello"`) {
		t.Fatalf("expected message field in log line, got %q", string(data))
	}
}

func TestWithCarriesFieldsAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.log")
	logger, err := New(config.LoggingConfig{Level: "debug", Path: path, MaxSizeMB: 10, MaxBackups: 1, MaxAgeDays: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	scoped := logger.With(String("coop", "root"))
	scoped.Warn("boundary crossed")
	_ = logger.Sync()

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `"coop":"root"`) {
		t.Fatalf("expected the With field to be carried, got %q", string(data))
	}
}

func TestWithTraceGeneratesIDWhenAbsent(t *testing.T) {
	ctx, logger, tid := WithTrace(context.Background(), NewTestLogger(), "")
	if tid == "" {
		t.Fatalf("expected a generated trace id")
	}
	if TraceIDFromContext(ctx) != tid {
		t.Fatalf("expected context to carry the generated trace id")
	}
	if LoggerFromContext(ctx) != logger {
		t.Fatalf("expected context to carry the derived logger")
	}
}

func TestNewRejectsEmptyPath(t *testing.T) {
	if _, err := New(config.LoggingConfig{Level: "info", MaxSizeMB: 10}); err == nil {
		t.Fatalf("expected empty path to be rejected")
	}
}
