package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/codebuildervaibhav/media-transcriber/internal/logging"
	"github.com/codebuildervaibhav/media-transcriber/internal/types"
)

type fakeUploader struct {
	url   string
	err   error
	calls int
}

func (u *fakeUploader) UploadAndSign(_ context.Context, _, _ string) (string, error) {
	u.calls++
	return u.url, u.err
}

// bailianServer replays statuses for successive polls.
type bailianServer struct {
	t        *testing.T
	statuses []string
	result   string
	resultCT string
	failMsg  string
	noTaskID bool

	mu      sync.Mutex
	polls   int
	payload map[string]any
	srv     *httptest.Server
}

func newBailianServer(t *testing.T, b *bailianServer) *bailianServer {
	b.t = t
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *bailianServer) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/services/audio/asr/transcription":
		if r.Header.Get("X-DashScope-Async") != "enable" {
			b.t.Errorf("missing async header")
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			b.t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		b.mu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&b.payload)
		b.mu.Unlock()
		output := map[string]any{"task_status": "PENDING"}
		if !b.noTaskID {
			output["task_id"] = "task-1"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"output": output})
	case r.URL.Path == "/tasks/task-1":
		b.mu.Lock()
		status := b.statuses[min(b.polls, len(b.statuses)-1)]
		b.polls++
		b.mu.Unlock()
		output := map[string]any{"task_id": "task-1", "task_status": status}
		switch status {
		case "SUCCEEDED":
			output["results"] = []any{map[string]any{"transcription_url": b.srv.URL + "/result"}}
		case "FAILED":
			output["code"] = "InvalidFile.DecodeFailed"
			output["message"] = b.failMsg
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"output": output})
	case r.URL.Path == "/result":
		w.Header().Set("Content-Type", b.resultCT)
		_, _ = w.Write([]byte(b.result))
	default:
		http.NotFound(w, r)
	}
}

func (b *bailianServer) pollCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.polls
}

func (b *bailianServer) submitted() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.payload
}

func (b *bailianServer) provider(uploader Uploader, model string) *Bailian {
	return NewBailian(BailianConfig{
		APIKey:       "key",
		BaseURL:      b.srv.URL,
		Model:        model,
		Language:     "zh",
		PollInterval: time.Millisecond,
	}, uploader, logging.Discard())
}

func TestBailianSucceeds(t *testing.T) {
	srv := newBailianServer(t, &bailianServer{
		statuses: []string{"PENDING", "RUNNING", "SUCCEEDED"},
		result:   `{"transcription":"hello world"}`,
		resultCT: "application/json",
	})
	uploader := &fakeUploader{url: "https://bucket.example/audio.mp3?sig=1"}

	var handles []string
	var events []types.ProgressEvent
	text, err := srv.provider(uploader, "").Transcribe(context.Background(), Request{
		AudioPath:    "/cache/abc.mp3",
		JobID:        "job-1",
		OnProgress:   func(ev types.ProgressEvent) { events = append(events, ev) },
		OnTaskHandle: func(h string) { handles = append(handles, h) },
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("text = %q", text)
	}
	if len(handles) != 1 || handles[0] != "task-1" {
		t.Fatalf("handles = %v", handles)
	}
	// upload, submitted, PENDING, RUNNING, complete
	if len(events) != 5 {
		t.Fatalf("got %d events, want 5", len(events))
	}
	last := events[len(events)-1]
	if last.RawText == nil || *last.RawText != "hello world" || *last.Words != 2 {
		t.Fatalf("unexpected final event: %+v", last)
	}

	payload := srv.submitted()
	input := payload["input"].(map[string]any)
	if input["file_url"] != uploader.url {
		t.Fatalf("payload input = %v", input)
	}
	if payload["model"] != DefaultBailianModel {
		t.Fatalf("payload model = %v", payload["model"])
	}
}

func TestBailianUnknownStatusFailsFast(t *testing.T) {
	srv := newBailianServer(t, &bailianServer{statuses: []string{"RUNNING", "RUNNING", "SUSPENDED"}})
	_, err := srv.provider(&fakeUploader{url: "https://bucket/x"}, "").Transcribe(context.Background(), Request{JobID: "job-1"})
	if !errors.Is(err, types.ErrProviderProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
	if n := srv.pollCount(); n != 3 {
		t.Fatalf("polls = %d, want 3", n)
	}
}

func TestBailianFailedCarriesVendorMessage(t *testing.T) {
	srv := newBailianServer(t, &bailianServer{statuses: []string{"FAILED"}, failMsg: "audio decode failed"})
	_, err := srv.provider(&fakeUploader{url: "https://bucket/x"}, "").Transcribe(context.Background(), Request{JobID: "job-1"})
	if !errors.Is(err, types.ErrProviderRemote) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if err.Error() != "audio decode failed" {
		t.Fatalf("message = %q", err.Error())
	}
	var remote *types.RemoteError
	if !errors.As(err, &remote) || remote.Code != "InvalidFile.DecodeFailed" {
		t.Fatalf("unexpected remote error: %#v", err)
	}
}

func TestBailianMissingTaskIDIsProtocolError(t *testing.T) {
	srv := newBailianServer(t, &bailianServer{statuses: []string{"RUNNING"}, noTaskID: true})
	var handles int
	_, err := srv.provider(&fakeUploader{url: "https://bucket/x"}, "").Transcribe(context.Background(), Request{
		JobID:        "job-1",
		OnTaskHandle: func(string) { handles++ },
	})
	if !errors.Is(err, types.ErrProviderProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
	if handles != 0 {
		t.Fatal("task handle reported without a task")
	}
}

func TestBailianUploadFailureIsConfigError(t *testing.T) {
	srv := newBailianServer(t, &bailianServer{statuses: []string{"RUNNING"}})
	uploader := &fakeUploader{err: errors.New("access denied")}
	_, err := srv.provider(uploader, "").Transcribe(context.Background(), Request{JobID: "job-1"})
	if !errors.Is(err, types.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
	if srv.submitted() != nil {
		t.Fatal("vendor task submitted after upload failure")
	}
}

func TestBailianRequiresAPIKey(t *testing.T) {
	uploader := &fakeUploader{url: "https://bucket/x"}
	p := NewBailian(BailianConfig{}, uploader, logging.Discard())
	if _, err := p.Transcribe(context.Background(), Request{JobID: "job-1"}); !errors.Is(err, types.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
	if uploader.calls != 0 {
		t.Fatal("upload attempted without credentials")
	}
}

func TestBailianPlainTextResult(t *testing.T) {
	srv := newBailianServer(t, &bailianServer{
		statuses: []string{"SUCCEEDED"},
		result:   "plain transcript",
		resultCT: "text/plain; charset=utf-8",
	})
	text, err := srv.provider(&fakeUploader{url: "https://bucket/x"}, "paraformer-v2").Transcribe(context.Background(), Request{JobID: "job-1"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "plain transcript" {
		t.Fatalf("text = %q", text)
	}
	input := srv.submitted()["input"].(map[string]any)
	urls, ok := input["file_urls"].([]any)
	if !ok || len(urls) != 1 {
		t.Fatalf("paraformer payload = %v", input)
	}
}

func TestExtractTranscript(t *testing.T) {
	cases := map[string]string{
		`{"text":"a b"}`:                                  "a b",
		`{"result":"c"}`:                                  "c",
		`{"transcripts":[{"text":"one"},{"text":"two"}]}`: "one\ntwo",
	}
	for body, want := range cases {
		got, ok := extractTranscript([]byte(body))
		if !ok || got != want {
			t.Fatalf("%s: got %q, %v", body, got, ok)
		}
	}
	if _, ok := extractTranscript([]byte(`{"other":1}`)); ok {
		t.Fatal("unexpected match")
	}
}

func TestSubmitPayloadShapes(t *testing.T) {
	p := submitPayload("fun-asr", "u", "")
	if _, ok := p["parameters"]; ok {
		t.Fatal("no parameters expected without a language")
	}
	p = submitPayload(DefaultBailianModel, "u", "zh")
	params := p["parameters"].(map[string]any)
	if params["language"] != "zh" || params["enable_itn"] != true {
		t.Fatalf("params = %v", params)
	}
	if !strings.Contains(mustJSON(t, p), `"file_url":"u"`) {
		t.Fatal("file_url missing")
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{in: "short", n: 10, want: "short"},
		{in: "abcdef", n: 3, want: "abc..."},
		{in: "任务失败", n: 4, want: "任..."},
		{in: "任务失败", n: 6, want: "任务..."},
		{in: "任务失败", n: 2, want: "..."},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.n)
		if got != tt.want {
			t.Fatalf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Fatalf("truncate(%q, %d) produced invalid UTF-8", tt.in, tt.n)
		}
	}
}
