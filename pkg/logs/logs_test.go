package logs

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"supportdesk/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewHandler_JSONToStdout(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.LoggingConfig{Level: "info", Format: "json", Stdout: true}
	logger := slog.New(NewHandler(cfg, &buf))

	logger.Debug("hidden")
	logger.Info("thread loaded", "thread_id", 42)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected one line above debug level, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Output is not JSON: %v", err)
	}
	if entry["msg"] != "thread loaded" || entry["thread_id"] != float64(42) {
		t.Errorf("Unexpected entry %v", entry)
	}
}

func TestNewHandler_RotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "supportdesk.log")
	var console bytes.Buffer
	cfg := &config.LoggingConfig{Level: "debug", Format: "text", File: path, MaxSizeMB: 1}

	logger := slog.New(NewHandler(cfg, &console))
	logger.Info("written to file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Log file not written: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("Unexpected file content %q", data)
	}
	if console.Len() != 0 {
		t.Error("Console output should be off when a file is configured and stdout is not requested")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello world", 5); got != "hello..." {
		t.Errorf("Truncate = %q", got)
	}
	if got := Truncate("hi", 5); got != "hi" {
		t.Errorf("Truncate = %q", got)
	}
}
