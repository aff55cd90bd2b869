package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{Level: "warn", Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}
	log.Info("hidden")
	log.Warn("hook failed", zap.String("hook", "lint"))
	_ = log.Sync()

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line logged at warn level: %q", out)
	}
	if !strings.Contains(out, "WARN") || !strings.Contains(out, "hook failed") || !strings.Contains(out, `"hook": "lint"`) {
		t.Errorf("output = %q", out)
	}
}

func TestFileOutputIsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "hooksched.log")
	log, err := New(Options{Level: "debug", File: path})
	if err != nil {
		t.Fatal(err)
	}
	log.Debug("planned execution", zap.Int("batches", 3))
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("not JSON: %q: %v", data, err)
	}
	if entry["msg"] != "planned execution" || entry["level"] != "debug" || entry["batches"] != float64(3) {
		t.Errorf("entry = %v", entry)
	}
}

func TestInvalidLevel(t *testing.T) {
	if _, err := New(Options{Level: "chatty"}); err == nil {
		t.Error("expected error for unknown level")
	}
}
