package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/codebuildervaibhav/media-transcriber/internal/config"
)

// Options describes logger construction parameters.
type Options struct {
	Level  string
	Format string
	Output io.Writer
	File   string
	// Tee receives a copy of every record, e.g. a Buffer served over HTTP.
	Tee io.Writer
}

// New constructs a slog logger using the provided options.
func New(opts Options) (*slog.Logger, error) {
	levelVar := new(slog.LevelVar)
	levelVar.Set(parseLevel(opts.Level))

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("ensure log directory: %w", err)
		}
		file, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", opts.File, err)
		}
		out = io.MultiWriter(out, file)
	}
	if opts.Tee != nil {
		out = io.MultiWriter(out, opts.Tee)
	}

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" || format == "auto" {
		format = "json"
		if f, ok := opts.Output.(*os.File); ok || opts.Output == nil {
			if f == nil {
				f = os.Stdout
			}
			if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
				format = "console"
			}
		}
	}

	handlerOpts := &slog.HandlerOptions{
		Level:       levelVar,
		AddSource:   levelVar.Level() <= slog.LevelDebug,
		ReplaceAttr: replaceAttr,
	}
	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(out, handlerOpts)), nil
	case "console":
		return slog.New(slog.NewTextHandler(out, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
}

// NewFromConfig creates a logger using application config values. tee may be
// nil.
func NewFromConfig(cfg *config.Config, tee io.Writer) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{Level: "info", Format: "auto", Tee: tee})
	}
	opts := Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Tee: tee}
	if cfg.Logging.Dir != "" {
		opts.File = filepath.Join(cfg.Logging.Dir, "transcriber.log")
	}
	return New(opts)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func replaceAttr(_ []string, attr slog.Attr) slog.Attr {
	switch attr.Key {
	case slog.TimeKey:
		attr.Key = "ts"
		if attr.Value.Kind() == slog.KindTime {
			attr.Value = slog.StringValue(attr.Value.Time().UTC().Format(time.RFC3339))
		}
	case slog.LevelKey:
		attr.Value = slog.StringValue(strings.ToLower(attr.Value.String()))
	case slog.SourceKey:
		if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
			attr.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
		}
	}
	return attr
}
