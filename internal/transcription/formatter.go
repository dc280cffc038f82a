package transcription

import (
	"context"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/codebuildervaibhav/media-transcriber/internal/types"
)

// formatSystemPrompt limits the model to spelling fixes and minimal punctuation.
const formatSystemPrompt = "You are a careful proofreader. Correct spelling mistakes in the transcript " +
	"and add only the punctuation that is necessary, such as periods and commas, using only the " +
	"provided context. Do not rephrase, summarize, translate, reorder or otherwise change the meaning " +
	"of the text. Reply with the corrected transcript only."

type chatStream interface {
	Next() bool
	Current() openai.ChatCompletionChunk
	Err() error
	Close() error
}

// FormatterConfig configures the OpenAI-compatible chat completion endpoint.
type FormatterConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Formatter streams a raw transcript through a text cleanup model.
type Formatter struct {
	cfg    FormatterConfig
	logger *slog.Logger
	open   func(ctx context.Context, rawText string) chatStream
}

// NewFormatter builds a formatter against cfg.
func NewFormatter(cfg FormatterConfig, logger *slog.Logger) *Formatter {
	if cfg.Model == "" {
		cfg.Model = "deepseek-chat"
	}
	if logger == nil {
		logger = slog.Default()
	}
	f := &Formatter{cfg: cfg, logger: logger.With("component", "formatter")}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	f.open = func(ctx context.Context, rawText string) chatStream {
		return client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
			Model: cfg.Model,
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(formatSystemPrompt),
				openai.UserMessage(rawText),
			},
		})
	}
	return f
}

// Format returns the cleaned transcript. Every non-empty delta is reported
// with the cumulative text so far.
func (f *Formatter) Format(ctx context.Context, rawText, jobID string, onProgress ProgressFunc) (string, error) {
	if strings.TrimSpace(f.cfg.APIKey) == "" {
		return "", types.Wrap(types.ErrConfig, "formatter", "format", "DEEPSEEK_API_KEY is required for formatting", nil)
	}

	stream := f.open(ctx, rawText)
	defer stream.Close()

	var acc strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		acc.WriteString(delta)
		if onProgress != nil {
			text := acc.String()
			onProgress(types.ProgressEvent{
				Stage:         types.StatusFormatting,
				Chunk:         types.Ptr(delta),
				FormattedText: types.Ptr(text),
				Words:         types.Ptr(types.WordCount(text)),
			})
		}
	}
	if err := stream.Err(); err != nil {
		return "", types.Wrap(types.ErrTransport, "formatter", "chat stream", "", err)
	}
	f.logger.Info("formatting done", "job_id", jobID, "length", acc.Len())
	return acc.String(), nil
}
