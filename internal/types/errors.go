package types

import (
	"errors"
	"fmt"
	"strings"
)

// Error markers used to classify failures across the pipeline.
var (
	ErrConfig           = errors.New("configuration error")
	ErrProviderProtocol = errors.New("provider protocol error")
	ErrProviderRemote   = errors.New("provider remote error")
	ErrTransport        = errors.New("transport error")
	ErrLocalIO          = errors.New("local io error")
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrQueueFull        = errors.New("job queue is full")
)

// Wrap builds an error message that includes stage context while tagging it
// with marker for classification via errors.Is.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransport
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// RemoteError is reported when a vendor explicitly fails a task. Error returns
// the vendor message verbatim.
type RemoteError struct {
	Provider string
	Code     string
	Message  string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Is makes RemoteError match ErrProviderRemote.
func (e *RemoteError) Is(target error) bool {
	return target == ErrProviderRemote
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "failure"
	}
	return strings.Join(parts, ": ")
}
