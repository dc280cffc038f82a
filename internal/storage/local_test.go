package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/codebuildervaibhav/media-transcriber/internal/types"
)

func TestLocalExporterWritesDatedFiles(t *testing.T) {
	dir := t.TempDir()
	le := NewLocalExporter(dir)
	le.now = func() time.Time { return time.Date(2026, 1, 23, 14, 30, 22, 0, time.UTC) }

	job := &types.Job{
		ID:            "job-1",
		URL:           "https://www.bilibili.com/video/BV1xy",
		Provider:      types.ProviderOpenAI,
		RawText:       "hello world",
		FormattedText: "Hello, world.",
	}
	path, err := le.Export(context.Background(), job)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	want := filepath.Join(dir, "2026", "01", "23", "20260123_143022_job-1.txt")
	if path != want {
		t.Fatalf("path = %s, want %s", path, want)
	}
	body, err := os.ReadFile(path)
	if err != nil || string(body) != "Hello, world." {
		t.Fatalf("transcript = %q, %v", body, err)
	}

	raw, err := os.ReadFile(strings.TrimSuffix(path, ".txt") + "_meta.json")
	if err != nil {
		t.Fatalf("read meta: %v", err)
	}
	var meta TranscriptMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatalf("decode meta: %v", err)
	}
	if meta.JobID != "job-1" || meta.WordCount != 2 || meta.LocalPath != path {
		t.Fatalf("unexpected meta: %+v", meta)
	}
}

func TestTranscriptTextFallsBackToRaw(t *testing.T) {
	if got := TranscriptText(&types.Job{RawText: "raw", FormattedText: "  "}); got != "raw" {
		t.Fatalf("got %q", got)
	}
}

func TestSanitizeFilename(t *testing.T) {
	if got := sanitizeFilename(`a/b\c:d*e?f"g<h>i|j`); got != "a_b_c_d_e_f_g_h_i_j" {
		t.Fatalf("got %q", got)
	}
	if got := sanitizeFilename(strings.Repeat("x", 150)); len(got) != 100 {
		t.Fatalf("len = %d", len(got))
	}
}
