package download

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/codebuildervaibhav/media-transcriber/internal/types"
)

// Options configures the yt-dlp invocation.
type Options struct {
	Binary       string
	Format       string
	AudioFormat  string
	AudioQuality string
}

// YtDlp downloads the audio track of a media page with the yt-dlp CLI.
type YtDlp struct {
	opts   Options
	logger *slog.Logger
}

// NewYtDlp creates a downloader. Empty options fall back to yt-dlp defaults
// tuned for speech: the smallest audio stream re-encoded to mp3.
func NewYtDlp(opts Options, logger *slog.Logger) *YtDlp {
	if strings.TrimSpace(opts.Binary) == "" {
		opts.Binary = "yt-dlp"
	}
	if opts.Format == "" {
		opts.Format = "worstaudio/worst"
	}
	if opts.AudioFormat == "" {
		opts.AudioFormat = "mp3"
	}
	if opts.AudioQuality == "" {
		opts.AudioQuality = "192K"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &YtDlp{opts: opts, logger: logger.With(slog.String("component", "ytdlp"))}
}

// Available reports whether the configured binary is on PATH.
func (d *YtDlp) Available() (string, bool) {
	path, err := exec.LookPath(d.opts.Binary)
	return path, err == nil
}

// Download fetches url into destBase.<ext> and returns the resolved file.
func (d *YtDlp) Download(ctx context.Context, url, destBase string) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", types.Wrap(types.ErrValidation, "download", "yt-dlp", "url is required", nil)
	}
	if err := os.MkdirAll(filepath.Dir(destBase), 0o755); err != nil {
		return "", types.Wrap(types.ErrLocalIO, "download", "prepare", "", err)
	}

	args := d.args(url, destBase)
	d.logger.Info("yt-dlp download starting", slog.String("url", url), slog.String("dest", destBase))

	cmd := exec.CommandContext(ctx, d.opts.Binary, args...)
	cmd.Dir = filepath.Dir(destBase)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", types.Wrap(types.ErrTransport, "download", "yt-dlp",
			fmt.Sprintf("yt-dlp failed: %s", strings.TrimSpace(stderr.String())), err)
	}

	path, ok := ResolveAudioFile(destBase)
	if !ok {
		return "", types.Wrap(types.ErrLocalIO, "download", "resolve",
			fmt.Sprintf("audio file not found after download in %s", filepath.Dir(destBase)), nil)
	}
	d.logger.Info("yt-dlp download finished", slog.String("path", path))
	return path, nil
}

func (d *YtDlp) args(url, destBase string) []string {
	return []string{
		"-f", d.opts.Format,
		"-x",
		"--audio-format", d.opts.AudioFormat,
		"--audio-quality", d.opts.AudioQuality,
		"--no-playlist",
		"--no-progress",
		"-q",
		"-o", filepath.Base(destBase) + ".%(ext)s",
		url,
	}
}
