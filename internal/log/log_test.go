package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewWritesText(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(&buf, Config{Level: slog.LevelInfo})
	logger.Info("request denied", "tool", "file_write", "violation", "path_escape")

	out := buf.String()
	if !strings.Contains(out, "request denied") {
		t.Errorf("output missing message: %s", out)
	}
	if !strings.Contains(out, "tool=file_write") {
		t.Errorf("output missing tool attribute: %s", out)
	}
	if !strings.Contains(out, "violation=path_escape") {
		t.Errorf("output missing violation attribute: %s", out)
	}
}

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(&buf, Config{Level: slog.LevelInfo, JSON: true})
	logger.Info("tool dispatched", "tool", "git_clone", "duration_ms", 42)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if entry["msg"] != "tool dispatched" {
		t.Errorf("msg = %v, want %q", entry["msg"], "tool dispatched")
	}
	if entry["tool"] != "git_clone" {
		t.Errorf("tool = %v, want %q", entry["tool"], "git_clone")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(&buf, Config{Level: slog.LevelWarn})
	logger.Debug("debug line")
	logger.Info("info line")
	logger.Warn("warn line")
	logger.Error("error line")

	out := buf.String()
	for _, dropped := range []string{"debug line", "info line"} {
		if strings.Contains(out, dropped) {
			t.Errorf("message %q should have been filtered out", dropped)
		}
	}
	for _, kept := range []string{"warn line", "error line"} {
		if !strings.Contains(out, kept) {
			t.Errorf("message %q should have been logged", kept)
		}
	}
}

func TestComponentContext(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(&buf, Config{Level: slog.LevelInfo})
	gateLogger := logger.With("component", "gate")
	gateLogger.Info("rate limit exceeded", "caller", "local")

	out := buf.String()
	if !strings.Contains(out, "component=gate") {
		t.Errorf("output missing component context: %s", out)
	}
	if !strings.Contains(out, "caller=local") {
		t.Errorf("output missing caller attribute: %s", out)
	}
}

func TestNewNopDiscards(t *testing.T) {
	logger := NewNop()
	if logger == nil {
		t.Fatal("NewNop() returned nil")
	}
	logger.Info("discarded")
	logger.Error("also discarded")
}

func TestNewDefaults(t *testing.T) {
	logger := New(Config{})
	if logger == nil {
		t.Fatal("New() returned nil")
	}
	if !logger.Enabled(t.Context(), slog.LevelInfo) {
		t.Error("default level should admit INFO")
	}
	if logger.Enabled(t.Context(), slog.LevelDebug) {
		t.Error("default level should filter DEBUG")
	}
}
