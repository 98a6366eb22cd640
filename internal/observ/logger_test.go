package observ

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		name  string
		env   string
		level string
	}{
		{"development debug", "development", "debug"},
		{"production info", "production", "info"},
		{"bad level falls back", "development", "loud"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.env, tt.level, "")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if logger == nil {
				t.Fatal("expected logger")
			}
		})
	}
}

func TestNewLogger_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskbell.log")

	logger, err := NewLogger("production", "info", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Info("file sink check")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "file sink check") {
		t.Errorf("log file missing entry: %s", data)
	}
}

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), "", "taskbell", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
