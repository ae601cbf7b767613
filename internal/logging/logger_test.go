package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNewWritesConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "smeder.log")
	log, err := New(Options{Level: "info", File: path, Console: &console})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	log.Debug("hidden")
	log.Info("ordered", zap.String("agent", "agent-smeder"))
	if err := log.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if !strings.Contains(console.String(), "ordered") || strings.Contains(console.String(), "hidden") {
		t.Fatalf("unexpected console output: %q", console.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"agent":"agent-smeder"`) {
		t.Fatalf("log file missing structured field: %s", data)
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
