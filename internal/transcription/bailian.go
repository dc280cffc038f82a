package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/codebuildervaibhav/media-transcriber/internal/types"
)

const (
	// DefaultBailianModel is recorded on new Bailian jobs without a model.
	DefaultBailianModel = "qwen3-asr-flash-filetrans"

	defaultBailianBaseURL = "https://dashscope.aliyuncs.com/api/v1"
	maxErrorBody          = 512
)

// Task status values reported by the vendor.
const (
	taskPending   = "PENDING"
	taskRunning   = "RUNNING"
	taskSucceeded = "SUCCEEDED"
	taskFailed    = "FAILED"
)

// Uploader publishes local audio at a URL the vendor can fetch.
type Uploader interface {
	UploadAndSign(ctx context.Context, localPath, jobID string) (string, error)
}

// BailianConfig configures the DashScope asynchronous file transcription API.
type BailianConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	Language     string
	PollInterval time.Duration
	Timeout      time.Duration
}

// Bailian uploads audio, submits an asynchronous task and polls it to
// completion.
type Bailian struct {
	cfg      BailianConfig
	uploader Uploader
	client   *http.Client
	logger   *slog.Logger
}

// NewBailian builds the submit/poll provider.
func NewBailian(cfg BailianConfig, uploader Uploader, logger *slog.Logger) *Bailian {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBailianBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultBailianModel
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bailian{
		cfg:      cfg,
		uploader: uploader,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger.With("component", "bailian"),
	}
}

// Name returns the provider tag.
func (b *Bailian) Name() string { return types.ProviderBailian }

// DefaultModel is the model recorded on jobs created without one.
func (b *Bailian) DefaultModel() string { return b.cfg.Model }

// Transcribe runs upload, submit and poll. Unknown task statuses fail
// immediately.
func (b *Bailian) Transcribe(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(b.cfg.APIKey) == "" {
		return "", types.Wrap(types.ErrConfig, "bailian", "transcribe", "DASHSCOPE_API_KEY is required for Bailian provider", nil)
	}
	if b.uploader == nil {
		return "", types.Wrap(types.ErrConfig, "bailian", "upload", "object storage is not configured", nil)
	}
	model := req.Model
	if model == "" {
		model = b.cfg.Model
	}
	logger := b.logger.With("job_id", req.JobID, "model", model)

	fileURL, err := b.uploader.UploadAndSign(ctx, req.AudioPath, req.JobID)
	if err != nil {
		if errors.Is(err, types.ErrConfig) {
			return "", err
		}
		return "", types.Wrap(types.ErrConfig, "bailian", "upload", "", err)
	}
	req.progress(types.NewEvent(types.StatusTranscribing, "Audio uploaded, submitting Bailian task"))

	taskID, err := b.submit(ctx, model, fileURL)
	if err != nil {
		return "", err
	}
	logger.Info("bailian task submitted", "task_id", taskID)
	req.taskHandle(taskID)
	req.progress(types.NewEvent(types.StatusTranscribing, "Bailian task submitted, task_id="+taskID))

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		out, err := b.fetchTask(ctx, taskID)
		if err != nil {
			return "", err
		}
		switch out.TaskStatus {
		case taskRunning, taskPending:
			req.progress(types.NewEvent(types.StatusTranscribing, fmt.Sprintf("Bailian processing (%s)", out.TaskStatus)))
		case taskFailed:
			msg := out.Message
			if msg == "" {
				msg = "Bailian task failed"
			}
			logger.Warn("bailian task failed", "task_id", taskID, "code", out.Code, "message", msg)
			return "", &types.RemoteError{Provider: types.ProviderBailian, Code: out.Code, Message: msg}
		case taskSucceeded:
			resultURL := out.resultURL()
			if resultURL == "" {
				return "", types.Wrap(types.ErrProviderProtocol, "bailian", "result", "transcription_url missing", nil)
			}
			text, err := b.downloadResult(ctx, resultURL)
			if err != nil {
				return "", err
			}
			logger.Info("bailian transcription done", "task_id", taskID, "length", len(text))
			req.progress(types.ProgressEvent{
				Stage:   types.StatusTranscribing,
				Message: types.Ptr("Bailian transcription complete"),
				RawText: types.Ptr(text),
				Words:   types.Ptr(types.WordCount(text)),
			})
			return text, nil
		default:
			return "", types.Wrap(types.ErrProviderProtocol, "bailian", "poll", fmt.Sprintf("unknown task status %q", out.TaskStatus), nil)
		}
	}
}

type taskResult struct {
	TranscriptionURL string `json:"transcription_url"`
	URL              string `json:"url"`
}

type taskOutput struct {
	TaskID     string       `json:"task_id"`
	TaskStatus string       `json:"task_status"`
	Code       string       `json:"code"`
	Message    string       `json:"message"`
	Results    []taskResult `json:"results"`
	Result     *taskResult  `json:"result"`
}

// taskResponse accepts the output either nested under "output" or at the top
// level.
type taskResponse struct {
	Output *taskOutput `json:"output"`
	taskOutput
}

func (r *taskResponse) output() *taskOutput {
	if r.Output != nil {
		return r.Output
	}
	return &r.taskOutput
}

func (o *taskOutput) resultURL() string {
	if len(o.Results) > 0 {
		if o.Results[0].TranscriptionURL != "" {
			return o.Results[0].TranscriptionURL
		}
		if o.Results[0].URL != "" {
			return o.Results[0].URL
		}
	}
	if o.Result != nil {
		if o.Result.TranscriptionURL != "" {
			return o.Result.TranscriptionURL
		}
		return o.Result.URL
	}
	return ""
}

// submitPayload shapes the request for model. Multi-file models take a list.
func submitPayload(model, fileURL, language string) map[string]any {
	payload := map[string]any{"model": model}
	if strings.HasPrefix(model, "paraformer") || strings.HasPrefix(model, "fun-asr") {
		payload["input"] = map[string]any{"file_urls": []string{fileURL}}
		if language != "" {
			payload["parameters"] = map[string]any{"language_hints": []string{language}}
		}
		return payload
	}
	payload["input"] = map[string]any{"file_url": fileURL}
	params := map[string]any{"enable_itn": true}
	if language != "" {
		params["language"] = language
	}
	payload["parameters"] = params
	return payload
}

func (b *Bailian) submit(ctx context.Context, model, fileURL string) (string, error) {
	body, err := json.Marshal(submitPayload(model, fileURL, b.cfg.Language))
	if err != nil {
		return "", fmt.Errorf("marshal bailian request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+"/services/audio/asr/transcription", bytes.NewReader(body))
	if err != nil {
		return "", types.Wrap(types.ErrTransport, "bailian", "submit", "", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-DashScope-Async", "enable")

	var resp taskResponse
	if err := b.doJSON(httpReq, "submit", &resp); err != nil {
		return "", err
	}
	out := resp.output()
	if out.TaskID == "" {
		return "", types.Wrap(types.ErrProviderProtocol, "bailian", "submit", "missing task_id in response", nil)
	}
	return out.TaskID, nil
}

func (b *Bailian) fetchTask(ctx context.Context, taskID string) (*taskOutput, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+"/tasks/"+taskID, nil)
	if err != nil {
		return nil, types.Wrap(types.ErrTransport, "bailian", "poll", "", err)
	}
	var resp taskResponse
	if err := b.doJSON(httpReq, "poll", &resp); err != nil {
		return nil, err
	}
	return resp.output(), nil
}

func (b *Bailian) doJSON(req *http.Request, op string, dst any) error {
	req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	resp, err := b.client.Do(req)
	if err != nil {
		return types.Wrap(types.ErrTransport, "bailian", op, "", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Wrap(types.ErrTransport, "bailian", op, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return types.Wrap(types.ErrTransport, "bailian", op,
			fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(string(data), maxErrorBody)), nil)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return types.Wrap(types.ErrProviderProtocol, "bailian", op, "decode response", err)
	}
	return nil
}

func (b *Bailian) downloadResult(ctx context.Context, resultURL string) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return "", types.Wrap(types.ErrTransport, "bailian", "fetch result", "", err)
	}
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", types.Wrap(types.ErrTransport, "bailian", "fetch result", "", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", types.Wrap(types.ErrTransport, "bailian", "fetch result", "read body", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", types.Wrap(types.ErrTransport, "bailian", "fetch result",
			fmt.Sprintf("status %d", resp.StatusCode), nil)
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		if text, ok := extractTranscript(data); ok {
			return text, nil
		}
	}
	return string(data), nil
}

// extractTranscript looks for the transcript under the known result fields.
func extractTranscript(data []byte) (string, bool) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", false
	}
	for _, key := range []string{"transcription", "text", "result"} {
		raw, ok := doc[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s, true
		}
	}
	if raw, ok := doc["transcripts"]; ok {
		var transcripts []struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(raw, &transcripts); err == nil && len(transcripts) > 0 {
			parts := make([]string, 0, len(transcripts))
			for _, t := range transcripts {
				if t.Text != "" {
					parts = append(parts, t.Text)
				}
			}
			return strings.Join(parts, "\n"), true
		}
	}
	return "", false
}

// truncate caps s at n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
