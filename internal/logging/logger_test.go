package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewJSONRenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("job started", slog.String("job_id", "abc"))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}
	if record["level"] != "info" {
		t.Fatalf("level = %v", record["level"])
	}
	if _, ok := record["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", record)
	}
	if record["job_id"] != "abc" {
		t.Fatalf("job_id = %v", record["job_id"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "warn", Format: "console", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestAutoFormatWithBufferIsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Format: "auto", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hello")
	if !strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Fatalf("expected JSON output, got %q", buf.String())
	}
}

func TestUnsupportedFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestTeeBufferKeepsRecentLines(t *testing.T) {
	buf := NewBuffer(2)
	logger, err := New(Options{Level: "info", Format: "json", Output: &bytes.Buffer{}, Tee: buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("one")
	logger.Info("two")
	logger.Info("three")

	lines := buf.Lines()
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if !strings.Contains(lines[0], `"msg":"two"`) || !strings.Contains(lines[1], `"msg":"three"`) {
		t.Fatalf("unexpected lines: %v", lines)
	}
	if strings.HasSuffix(lines[1], "\n") {
		t.Fatal("trailing newline kept")
	}
}
