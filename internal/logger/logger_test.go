// ABOUTME: Tests for logger construction
// ABOUTME: Checks level parsing and console/file routing
package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
		ok   bool
	}{
		{"", zapcore.InfoLevel, true},
		{"debug", zapcore.DebugLevel, true},
		{"WARN", zapcore.WarnLevel, true},
		{"loud", zapcore.InfoLevel, false},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseLevel(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "trackdeck.log")

	log, closeFn, err := New(Config{Level: "info", File: path, Console: &console})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	log.Debug("hidden")
	log.Info("track selected", zap.String("track", "intro"))
	if err := closeFn(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if !strings.Contains(console.String(), "track selected") {
		t.Errorf("console missing entry: %q", console.String())
	}
	if strings.Contains(console.String(), "hidden") {
		t.Error("debug entry should be filtered at info level")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 file entry, got %d", len(lines))
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("file entry is not JSON: %v", err)
	}
	if entry["msg"] != "track selected" || entry["track"] != "intro" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestFileOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tui.log")
	log, closeFn, err := New(Config{File: path})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	log.Warn("buffer underrun")
	closeFn()

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "buffer underrun") {
		t.Errorf("expected entry in file, got %q", data)
	}
}

func TestNoOutputs(t *testing.T) {
	log, closeFn, err := New(Config{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	log.Info("dropped")
	if err := closeFn(); err != nil {
		t.Errorf("close failed: %v", err)
	}
}

func TestInvalidLevel(t *testing.T) {
	if _, _, err := New(Config{Level: "loud"}); err == nil {
		t.Error("expected error for invalid level")
	}
}
