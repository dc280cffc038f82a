package queue

import (
	"time"
)

// TaskKind selects which part of the pipeline a worker runs.
type TaskKind string

const (
	// TaskRun drives a pending job through every stage.
	TaskRun TaskKind = "run"
	// TaskRegenerate reruns formatting against the stored raw transcript.
	TaskRegenerate TaskKind = "regenerate"
)

// Task is one unit of work handed to the worker pool.
type Task struct {
	JobID      string
	Kind       TaskKind
	EnqueuedAt time.Time
}

// NewTask creates a task stamped with the current time
func NewTask(jobID string, kind TaskKind) Task {
	return Task{
		JobID:      jobID,
		Kind:       kind,
		EnqueuedAt: time.Now(),
	}
}
