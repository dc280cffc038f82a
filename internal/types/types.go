package types

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a transcription job.
type Status string

// Job status constants
const (
	StatusPending      Status = "pending"
	StatusDownloading  Status = "downloading"
	StatusTranscribing Status = "transcribing"
	StatusFormatting   Status = "formatting"
	StatusDone         Status = "done"
	StatusError        Status = "error"
)

// Provider tags
const (
	ProviderOpenAI  = "openai"
	ProviderBailian = "bailian"
)

var activeStatuses = map[Status]struct{}{
	StatusPending:      {},
	StatusDownloading:  {},
	StatusTranscribing: {},
	StatusFormatting:   {},
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(value)))
	switch s {
	case StatusPending, StatusDownloading, StatusTranscribing, StatusFormatting, StatusDone, StatusError:
		return s, true
	}
	return "", false
}

// IsActive reports whether the status belongs to a running pipeline.
func (s Status) IsActive() bool {
	_, ok := activeStatuses[s]
	return ok
}

// IsTerminal reports whether the status ends a pipeline run.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

// CanTransition enforces the job state machine edges.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusDownloading || to == StatusError
	case StatusDownloading:
		return to == StatusTranscribing || to == StatusError
	case StatusTranscribing:
		return to == StatusFormatting || to == StatusError
	case StatusFormatting:
		return to == StatusDone || to == StatusError
	case StatusDone, StatusError:
		return to == StatusFormatting
	default:
		return false
	}
}

// Job is one end-to-end request to acquire, transcribe and format a media URL.
type Job struct {
	ID                 string    `json:"id"`
	URL                string    `json:"url"`
	Provider           string    `json:"provider"`
	Model              string    `json:"model,omitempty"`
	Status             Status    `json:"status"`
	RawText            string    `json:"raw_text,omitempty"`
	FormattedText      string    `json:"formatted_text,omitempty"`
	Error              string    `json:"error,omitempty"`
	ProviderTaskHandle string    `json:"provider_task_handle,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// WordCount counts whitespace separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
