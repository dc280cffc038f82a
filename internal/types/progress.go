package types

// ProgressEvent is an incremental, ephemeral update about a job's processing.
// Optional fields are pointers so an explicit empty value can clear a field in
// a snapshot while an absent value leaves it untouched.
type ProgressEvent struct {
	Stage         Status  `json:"stage"`
	Message       *string `json:"message,omitempty"`
	Chunk         *string `json:"chunk,omitempty"`
	RawText       *string `json:"raw_text,omitempty"`
	FormattedText *string `json:"formatted_text,omitempty"`
	Words         *int    `json:"words,omitempty"`
	Error         *string `json:"error,omitempty"`
}

// NewEvent returns an event for stage with an optional message.
func NewEvent(stage Status, message string) ProgressEvent {
	ev := ProgressEvent{Stage: stage}
	if message != "" {
		ev.Message = Ptr(message)
	}
	return ev
}

// Merge folds next into e. Every present field except Chunk overwrites the
// current value.
func (e ProgressEvent) Merge(next ProgressEvent) ProgressEvent {
	if next.Stage != "" {
		e.Stage = next.Stage
	}
	if next.Message != nil {
		e.Message = next.Message
	}
	if next.RawText != nil {
		e.RawText = next.RawText
	}
	if next.FormattedText != nil {
		e.FormattedText = next.FormattedText
	}
	if next.Words != nil {
		e.Words = next.Words
	}
	if next.Error != nil {
		e.Error = next.Error
	}
	return e
}

// Clone returns a deep copy so receivers never share pointers with producers.
func (e ProgressEvent) Clone() ProgressEvent {
	out := ProgressEvent{Stage: e.Stage}
	out.Message = clonePtr(e.Message)
	out.Chunk = clonePtr(e.Chunk)
	out.RawText = clonePtr(e.RawText)
	out.FormattedText = clonePtr(e.FormattedText)
	out.Words = clonePtr(e.Words)
	out.Error = clonePtr(e.Error)
	return out
}

// SnapshotFromJob builds the cumulative event describing a persisted job.
func SnapshotFromJob(job *Job) ProgressEvent {
	ev := ProgressEvent{Stage: job.Status}
	ev.RawText = Ptr(job.RawText)
	ev.FormattedText = Ptr(job.FormattedText)
	if job.Error != "" {
		ev.Error = Ptr(job.Error)
	}
	return ev
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
