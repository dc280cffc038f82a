package transcription

import (
	"context"
	"sort"
	"sync"

	"github.com/codebuildervaibhav/media-transcriber/internal/types"
)

// ProgressFunc receives partial or cumulative state while a stage runs.
type ProgressFunc func(types.ProgressEvent)

// TaskHandleFunc receives the vendor task id of an asynchronous transcription.
type TaskHandleFunc func(handle string)

// Request describes one transcription call.
type Request struct {
	AudioPath    string
	JobID        string
	Model        string
	OnProgress   ProgressFunc
	OnTaskHandle TaskHandleFunc
}

func (r Request) progress(ev types.ProgressEvent) {
	if r.OnProgress != nil {
		r.OnProgress(ev)
	}
}

func (r Request) taskHandle(handle string) {
	if r.OnTaskHandle != nil {
		r.OnTaskHandle(handle)
	}
}

// Provider is a transcription backend. Transcribe reports progress zero or
// more times and returns the final transcript.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, req Request) (string, error)
}

// modelDefaulter is implemented by providers that record a model on new jobs.
type modelDefaulter interface {
	DefaultModel() string
}

// Registry maps provider tags to implementations.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns a registry holding providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a provider under its Name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// DefaultModel returns the model a new job for name should record, or "".
func (r *Registry) DefaultModel(name string) string {
	p, ok := r.Get(name)
	if !ok {
		return ""
	}
	if d, ok := p.(modelDefaulter); ok {
		return d.DefaultModel()
	}
	return ""
}

// Names lists registered provider tags in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
