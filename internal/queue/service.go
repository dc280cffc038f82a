package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/codebuildervaibhav/media-transcriber/internal/progress"
	"github.com/codebuildervaibhav/media-transcriber/internal/transcription"
	"github.com/codebuildervaibhav/media-transcriber/internal/types"
)

const queueFullMessage = "job queue is full"

// ServiceConfig holds the knobs of the job service.
type ServiceConfig struct {
	AllowedHosts    []string
	DefaultProvider string
	ListLimit       int
	Workers         int
	QueueSize       int
}

// Service is the boundary surface used by the HTTP layer and the CLI.
type Service struct {
	cfg         ServiceConfig
	store       Store
	driver      *Driver
	broadcaster *progress.Broadcaster
	providers   *transcription.Registry
	pool        *WorkerPool
	logger      *slog.Logger

	mu      sync.Mutex
	running map[string]struct{}
}

// NewService creates the job service and its worker pool. Call Start to begin
// processing.
func NewService(cfg ServiceConfig, store Store, driver *Driver, broadcaster *progress.Broadcaster, providers *transcription.Registry, logger *slog.Logger) *Service {
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = 50
	}
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = types.ProviderOpenAI
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		cfg:         cfg,
		store:       store,
		driver:      driver,
		broadcaster: broadcaster,
		providers:   providers,
		logger:      logger.With("component", "jobs"),
		running:     make(map[string]struct{}),
	}
	s.pool = NewWorkerPool(cfg.Workers, cfg.QueueSize, s.handle, logger)
	return s
}

// Start launches the worker pool.
func (s *Service) Start(ctx context.Context) {
	s.pool.Start(ctx)
}

// Stop cancels in-flight pipelines and waits for workers to exit.
func (s *Service) Stop() {
	s.pool.Stop()
}

// Create validates the URL host and provider, persists a pending job and
// queues it. Nothing is persisted when validation fails.
func (s *Service) Create(ctx context.Context, rawURL, provider, model string) (*types.Job, error) {
	sourceURL, err := ValidateURL(rawURL, s.cfg.AllowedHosts)
	if err != nil {
		return nil, err
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = s.cfg.DefaultProvider
	}
	if _, ok := s.providers.Get(provider); !ok {
		return nil, types.Wrap(types.ErrValidation, "create", "", fmt.Sprintf("unsupported provider %q", provider), nil)
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = s.providers.DefaultModel(provider)
	}

	job := &types.Job{
		ID:       uuid.NewString(),
		URL:      sourceURL,
		Provider: provider,
		Model:    model,
		Status:   types.StatusPending,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}
	s.logger.Info("job created", "job_id", job.ID, "url", job.URL, "provider", provider, "model", model)

	s.claim(job.ID)
	if err := s.submit(ctx, job, TaskRun); err != nil {
		return job, err
	}
	return job, nil
}

// Get returns the stored job.
func (s *Service) Get(ctx context.Context, id string) (*types.Job, error) {
	return s.store.Get(ctx, id)
}

// List returns up to limit jobs, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]*types.Job, error) {
	if limit <= 0 {
		limit = s.cfg.ListLimit
	}
	return s.store.List(ctx, limit)
}

// Regenerate reruns formatting for a finished job with a raw transcript.
func (s *Service) Regenerate(ctx context.Context, id string) (*types.Job, error) {
	if !s.tryClaim(id) {
		return nil, types.Wrap(types.ErrConflict, "regenerate", "", "job is still processing", nil)
	}
	job, err := s.store.Get(ctx, id)
	if err != nil {
		s.release(id)
		return nil, err
	}
	if err := s.driver.BeginRegenerate(ctx, job); err != nil {
		s.release(id)
		return nil, err
	}
	s.logger.Info("regenerate requested", "job_id", id)
	if err := s.submit(ctx, job, TaskRegenerate); err != nil {
		return job, err
	}
	return job, nil
}

// Subscribe registers an observer for id and returns the first message: the
// stored job overlaid with in-flight progress while the job is active.
func (s *Service) Subscribe(ctx context.Context, id string) (*progress.Subscription, types.ProgressEvent, error) {
	sub := s.broadcaster.Subscribe(id)
	job, err := s.store.Get(ctx, id)
	if err != nil {
		s.broadcaster.Unsubscribe(sub)
		return nil, types.ProgressEvent{}, err
	}
	first := types.SnapshotFromJob(job)
	if job.Status.IsActive() {
		if snap, ok := s.broadcaster.Snapshot(id); ok {
			first = first.Merge(snap)
		}
	}
	return sub, first, nil
}

// Unsubscribe removes an observer.
func (s *Service) Unsubscribe(sub *progress.Subscription) {
	s.broadcaster.Unsubscribe(sub)
}

// Running reports whether id has a queued or executing task.
func (s *Service) Running(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	return ok
}

func (s *Service) submit(ctx context.Context, job *types.Job, kind TaskKind) error {
	err := s.pool.TrySubmit(NewTask(job.ID, kind))
	if err == nil {
		return nil
	}
	s.release(job.ID)

	msg := queueFullMessage
	if !errors.Is(err, types.ErrQueueFull) {
		msg = err.Error()
	}
	s.logger.Warn("job rejected by worker pool", "job_id", job.ID, "kind", kind, "error", err)
	job.Status = types.StatusError
	job.Error = msg
	if uerr := s.store.Update(context.WithoutCancel(ctx), job); uerr != nil {
		s.logger.Error("persist rejected job failed", "job_id", job.ID, "error", uerr)
	}
	s.broadcaster.Broadcast(job.ID, types.ProgressEvent{
		Stage:   types.StatusError,
		Message: types.Ptr(msg),
		Error:   types.Ptr(msg),
	})
	s.broadcaster.Release(job.ID)
	return err
}

func (s *Service) handle(ctx context.Context, task Task) {
	job, err := s.execute(ctx, task)
	if err != nil {
		s.logger.Warn("task finished with error", "job_id", task.JobID, "kind", task.Kind, "error", err)
		return
	}
	s.logger.Info("task finished", "job_id", task.JobID, "kind", task.Kind)
	s.driver.Export(ctx, job)
}

// execute holds the job claim only until the terminal commit, so a regenerate
// is accepted while exports are still running.
func (s *Service) execute(ctx context.Context, task Task) (*types.Job, error) {
	defer s.release(task.JobID)
	if task.Kind == TaskRegenerate {
		return s.driver.Regenerate(ctx, task.JobID)
	}
	return s.driver.Run(ctx, task.JobID)
}

func (s *Service) claim(id string) {
	s.mu.Lock()
	s.running[id] = struct{}{}
	s.mu.Unlock()
}

func (s *Service) tryClaim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[id]; busy {
		return false
	}
	s.running[id] = struct{}{}
	return true
}

func (s *Service) release(id string) {
	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()
}

// ValidateURL checks that raw is an absolute http(s) URL whose host equals or
// is a subdomain of an allowed host, and returns it trimmed.
func ValidateURL(raw string, allowedHosts []string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", types.Wrap(types.ErrValidation, "create", "", "url is required", nil)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", types.Wrap(types.ErrValidation, "create", "", "malformed url", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", types.Wrap(types.ErrValidation, "create", "", "url must use http or https", nil)
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return "", types.Wrap(types.ErrValidation, "create", "", "url has no host", nil)
	}
	for _, allowed := range allowedHosts {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == "" {
			continue
		}
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return raw, nil
		}
	}
	return "", types.Wrap(types.ErrValidation, "create", "", fmt.Sprintf("host %q is not allowed", host), nil)
}
