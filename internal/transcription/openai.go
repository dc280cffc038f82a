package transcription

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/codebuildervaibhav/media-transcriber/internal/types"
)

const (
	transcriptDeltaEvent = "transcript.text.delta"
	transcriptDoneEvent  = "transcript.text.done"
)

// transcriptionStream is the subset of the SDK event stream the provider reads.
type transcriptionStream interface {
	Next() bool
	Current() openai.TranscriptionStreamEventUnion
	Err() error
	Close() error
}

// OpenAIConfig configures the push-stream transcription provider.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAI transcribes audio over one live streaming call.
type OpenAI struct {
	cfg    OpenAIConfig
	logger *slog.Logger
	open   func(ctx context.Context, file *os.File, model string) transcriptionStream
}

// NewOpenAI builds the push-stream provider.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = openai.AudioModelGPT4oMiniTranscribe
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &OpenAI{cfg: cfg, logger: logger.With("component", "openai")}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	p.open = func(ctx context.Context, file *os.File, model string) transcriptionStream {
		return client.Audio.Transcriptions.NewStreaming(ctx, openai.AudioTranscriptionNewParams{
			File:           file,
			Model:          model,
			ResponseFormat: openai.AudioResponseFormatJSON,
		})
	}
	return p
}

// Name returns the provider tag.
func (p *OpenAI) Name() string { return types.ProviderOpenAI }

// Transcribe streams the file to the vendor. Each delta is appended to the
// accumulator; the done event replaces it with the vendor's final text.
func (p *OpenAI) Transcribe(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return "", types.Wrap(types.ErrConfig, "openai", "transcribe", "OPENAI_API_KEY is required for OpenAI provider", nil)
	}
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	f, err := os.Open(req.AudioPath)
	if err != nil {
		return "", types.Wrap(types.ErrLocalIO, "openai", "open audio", req.AudioPath, err)
	}
	defer f.Close()

	logger := p.logger.With("job_id", req.JobID, "model", model)
	logger.Info("starting transcription stream")

	stream := p.open(ctx, f, model)
	defer stream.Close()

	var acc strings.Builder
	first := true
	for stream.Next() {
		ev := stream.Current()
		if first {
			logger.Info("received first transcription event")
			first = false
		}
		switch ev.Type {
		case transcriptDeltaEvent:
			acc.WriteString(ev.Delta)
			req.progress(types.ProgressEvent{
				Stage: types.StatusTranscribing,
				Chunk: types.Ptr(ev.Delta),
				Words: types.Ptr(types.WordCount(acc.String())),
			})
		case transcriptDoneEvent:
			acc.Reset()
			acc.WriteString(ev.Text)
			req.progress(types.ProgressEvent{
				Stage:   types.StatusTranscribing,
				RawText: types.Ptr(ev.Text),
				Words:   types.Ptr(types.WordCount(ev.Text)),
			})
		}
	}
	if err := stream.Err(); err != nil {
		return "", types.Wrap(types.ErrTransport, "openai", "transcription stream", "", err)
	}
	return acc.String(), nil
}
