// Package progress multicasts job progress events to live subscribers and
// keeps a merged snapshot per job so late joiners can catch up in one message.
package progress

import (
	"log/slog"
	"sync"

	"github.com/codebuildervaibhav/media-transcriber/internal/types"
)

// DefaultBuffer is the per-subscriber queue depth used when none is given.
const DefaultBuffer = 1024

// Subscription is one observer's ordered event queue.
type Subscription struct {
	jobID   string
	ch      chan types.ProgressEvent
	dropped bool
	closed  bool
}

// Events returns the receive side of the queue. It is closed on Unsubscribe
// or when the subscriber falls too far behind.
func (s *Subscription) Events() <-chan types.ProgressEvent {
	return s.ch
}

// JobID returns the job this subscription observes.
func (s *Subscription) JobID() string {
	return s.jobID
}

// Broadcaster fans progress events out per job.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[string][]*Subscription
	snapshots   map[string]types.ProgressEvent
	buffer      int
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster whose subscriber queues hold buffer events.
func NewBroadcaster(buffer int, logger *slog.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string][]*Subscription),
		snapshots:   make(map[string]types.ProgressEvent),
		buffer:      buffer,
		logger:      logger.With(slog.String("component", "progress")),
	}
}

// Subscribe registers a new queue for jobID.
func (b *Broadcaster) Subscribe(jobID string) *Subscription {
	sub := &Subscription{jobID: jobID, ch: make(chan types.ProgressEvent, b.buffer)}
	b.mu.Lock()
	b.subscribers[jobID] = append(b.subscribers[jobID], sub)
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes sub and closes its queue. The job entry is dropped with
// its last subscriber; the snapshot is kept.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub)
}

// Dropped reports whether sub was disconnected for falling behind.
func (b *Broadcaster) Dropped(sub *Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return sub.dropped
}

// Broadcast merges ev into the job snapshot and enqueues a copy for every
// current subscriber. A subscriber whose queue is full is disconnected.
func (b *Broadcaster) Broadcast(jobID string, ev types.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.snapshots[jobID] = b.snapshots[jobID].Merge(ev)

	subs := b.subscribers[jobID]
	if len(subs) == 0 {
		return
	}
	var slow []*Subscription
	for _, sub := range subs {
		select {
		case sub.ch <- ev.Clone():
		default:
			slow = append(slow, sub)
		}
	}
	for _, sub := range slow {
		sub.dropped = true
		b.removeLocked(sub)
		b.logger.Warn("slow subscriber disconnected",
			slog.String("job_id", jobID),
			slog.Int("buffer", b.buffer),
		)
	}
}

// Snapshot returns the merged view of everything broadcast for jobID during
// its current run.
func (b *Broadcaster) Snapshot(jobID string) (types.ProgressEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap, ok := b.snapshots[jobID]
	return snap.Clone(), ok
}

// Release forgets the snapshot of a finished run.
func (b *Broadcaster) Release(jobID string) {
	b.mu.Lock()
	delete(b.snapshots, jobID)
	b.mu.Unlock()
}

// SubscriberCount returns the number of live subscribers for jobID.
func (b *Broadcaster) SubscriberCount(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[jobID])
}

func (b *Broadcaster) removeLocked(sub *Subscription) {
	subs := b.subscribers[sub.jobID]
	kept := subs[:0]
	for _, s := range subs {
		if s != sub {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(b.subscribers, sub.jobID)
	} else {
		b.subscribers[sub.jobID] = kept
	}
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}
