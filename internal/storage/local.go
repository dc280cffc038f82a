package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codebuildervaibhav/media-transcriber/internal/types"
)

// TranscriptMeta is the sidecar written next to every exported transcript.
type TranscriptMeta struct {
	JobID     string    `json:"job_id"`
	URL       string    `json:"url"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model,omitempty"`
	WordCount int       `json:"word_count"`
	CreatedAt time.Time `json:"created_at"`
	LocalPath string    `json:"local_path,omitempty"`
}

// LocalExporter saves finished transcripts to the local filesystem
type LocalExporter struct {
	outputDir string
	now       func() time.Time
}

// NewLocalExporter creates a new local transcript exporter
func NewLocalExporter(outputDir string) *LocalExporter {
	return &LocalExporter{
		outputDir: outputDir,
		now:       time.Now,
	}
}

// Name identifies the exporter in logs.
func (le *LocalExporter) Name() string { return "local" }

// Export writes the job's transcript and metadata under a dated directory
// (outputs/2026/01/23/) and returns the transcript path.
func (le *LocalExporter) Export(_ context.Context, job *types.Job) (string, error) {
	now := le.now()
	dateDir := filepath.Join(le.outputDir,
		fmt.Sprintf("%d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()))

	if err := os.MkdirAll(dateDir, 0o755); err != nil {
		return "", types.Wrap(types.ErrLocalIO, "export", "mkdir", dateDir, err)
	}

	baseFilename := ExportBaseName(now, job.ID)
	txtPath := filepath.Join(dateDir, baseFilename+".txt")
	metaPath := filepath.Join(dateDir, baseFilename+"_meta.json")

	text := TranscriptText(job)
	if err := os.WriteFile(txtPath, []byte(text), 0o644); err != nil {
		return "", types.Wrap(types.ErrLocalIO, "export", "write transcript", txtPath, err)
	}

	meta := NewTranscriptMeta(job)
	meta.LocalPath = txtPath
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, metaJSON, 0o644); err != nil {
		return "", types.Wrap(types.ErrLocalIO, "export", "write metadata", metaPath, err)
	}

	return txtPath, nil
}

// NewTranscriptMeta builds the metadata sidecar for job.
func NewTranscriptMeta(job *types.Job) TranscriptMeta {
	return TranscriptMeta{
		JobID:     job.ID,
		URL:       job.URL,
		Provider:  job.Provider,
		Model:     job.Model,
		WordCount: types.WordCount(TranscriptText(job)),
		CreatedAt: job.CreatedAt,
	}
}

// TranscriptText prefers the formatted transcript and falls back to raw.
func TranscriptText(job *types.Job) string {
	if strings.TrimSpace(job.FormattedText) != "" {
		return job.FormattedText
	}
	return job.RawText
}

// ExportBaseName yields "20260123_143022_<job id>".
func ExportBaseName(t time.Time, jobID string) string {
	return fmt.Sprintf("%s_%s", t.Format("20060102_150405"), sanitizeFilename(jobID))
}

// sanitizeFilename replaces characters that are invalid in file names
func sanitizeFilename(name string) string {
	result := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
	if len(result) > 100 {
		result = result[:100]
	}
	return result
}
