package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"nonsense", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFileOutputJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	cfg := &Config{
		Level:     slog.LevelInfo,
		Format:    "json",
		Output:    "file",
		FilePath:  path,
		Component: "test",
	}

	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	l.Info("hello", "answer", 42)
	l.Debug("filtered out")
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d", len(lines))
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", entry["msg"])
	}
	if entry["component"] != "test" {
		t.Errorf("component = %v, want test", entry["component"])
	}
	if entry["answer"] != float64(42) {
		t.Errorf("answer = %v, want 42", entry["answer"])
	}
}

func TestRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rotate.log")
	cfg := &Config{
		FilePath:   path,
		MaxSizeMB:  0, // no size limit via Write path; rotate manually
		MaxBackups: 2,
	}

	r, err := NewFileRotator(cfg)
	if err != nil {
		t.Fatalf("NewFileRotator failed: %v", err)
	}
	defer r.Close()

	if _, err := r.Write([]byte("first\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	r.mu.Lock()
	err = r.rotate()
	r.mu.Unlock()
	if err != nil {
		t.Fatalf("rotate failed: %v", err)
	}

	if _, err := r.Write([]byte("second\n")); err != nil {
		t.Fatalf("Write after rotate failed: %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("expected current file plus 1 backup, got %d files", len(entries))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read current file: %v", err)
	}
	if string(data) != "second\n" {
		t.Errorf("current file = %q, want fresh content", data)
	}
}

func TestWithComponent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "comp.log")
	l, err := New(&Config{Format: "json", Output: "file", FilePath: path, Component: "daemon"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	l.WithComponent("records").Info("tagged")
	l.Close()

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `"component":"records"`) {
		t.Errorf("log output missing overridden component: %s", data)
	}
}
