package queue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/codebuildervaibhav/media-transcriber/internal/cache"
	"github.com/codebuildervaibhav/media-transcriber/internal/transcription"
	"github.com/codebuildervaibhav/media-transcriber/internal/types"
)

// Store persists jobs. Update must be durable when it returns.
type Store interface {
	Create(ctx context.Context, job *types.Job) error
	Get(ctx context.Context, id string) (*types.Job, error)
	List(ctx context.Context, limit int) ([]*types.Job, error)
	Update(ctx context.Context, job *types.Job) error
}

// Downloader extracts audio from a media URL into destBase.<ext>.
type Downloader interface {
	Download(ctx context.Context, url, destBase string) (string, error)
}

// AudioCache returns local audio for a URL, fetching it on a miss.
type AudioCache interface {
	Acquire(ctx context.Context, sourceURL string, fetch cache.FetchFunc) (cache.Result, error)
}

// Formatter cleans up a raw transcript.
type Formatter interface {
	Format(ctx context.Context, rawText, jobID string, onProgress transcription.ProgressFunc) (string, error)
}

// Broadcaster fans progress out to observers.
type Broadcaster interface {
	Broadcast(jobID string, ev types.ProgressEvent)
	Release(jobID string)
}

// Exporter copies a finished transcript somewhere outside the job store.
type Exporter interface {
	Name() string
	Export(ctx context.Context, job *types.Job) (string, error)
}

// DriverDeps wires the driver's collaborators.
type DriverDeps struct {
	Store       Store
	Cache       AudioCache
	Downloader  Downloader
	Providers   *transcription.Registry
	Formatter   Formatter
	Broadcaster Broadcaster
	Exporters   []Exporter
}

// Driver sequences the stages of one job. Every transition is committed to
// the store before it is broadcast.
type Driver struct {
	deps           DriverDeps
	logger         *slog.Logger
	exportAttempts int
	exportBackoff  time.Duration
}

// NewDriver creates a pipeline driver.
func NewDriver(deps DriverDeps, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		deps:           deps,
		logger:         logger.With("component", "pipeline"),
		exportAttempts: 3,
		exportBackoff:  time.Second,
	}
}

// Run drives a pending job to done or error and returns the finished job. A
// stage failure is recorded on the job and returned; it is never retried.
// Exports are left to the caller so the job is not held past its terminal
// commit.
func (d *Driver) Run(ctx context.Context, jobID string) (done *types.Job, err error) {
	job, err := d.deps.Store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != types.StatusPending {
		return nil, types.Wrap(types.ErrConflict, "run", "", fmt.Sprintf("job is %s, not pending", job.Status), nil)
	}
	logger := d.logger.With("job_id", job.ID)
	defer d.deps.Broadcaster.Release(job.ID)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("pipeline panic", "panic", r, "stack", string(debug.Stack()))
			done, err = nil, d.fail(ctx, logger, job, fmt.Errorf("pipeline panic: %v", r))
		}
	}()

	logger.Info("job started", "url", job.URL, "provider", job.Provider)
	if err := d.run(ctx, logger, job); err != nil {
		return nil, d.fail(ctx, logger, job, err)
	}
	logger.Info("job completed")
	return job, nil
}

// BeginRegenerate validates and commits the {done|error} -> formatting
// transition, clearing the previous formatted text and error.
func (d *Driver) BeginRegenerate(ctx context.Context, job *types.Job) error {
	if job.Status.IsActive() {
		return types.Wrap(types.ErrConflict, "regenerate", "", fmt.Sprintf("job is still %s", job.Status), nil)
	}
	if strings.TrimSpace(job.RawText) == "" {
		return types.Wrap(types.ErrValidation, "regenerate", "", "job has no raw transcript", nil)
	}
	job.FormattedText = ""
	job.Error = ""
	return d.commit(ctx, job, types.ProgressEvent{
		Stage:         types.StatusFormatting,
		Message:       types.Ptr("Regenerating formatted text"),
		RawText:       types.Ptr(job.RawText),
		FormattedText: types.Ptr(""),
		Words:         types.Ptr(types.WordCount(job.RawText)),
	})
}

// Regenerate runs the formatting stage for a job already moved to formatting
// by BeginRegenerate and returns the finished job.
func (d *Driver) Regenerate(ctx context.Context, jobID string) (done *types.Job, err error) {
	job, err := d.deps.Store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != types.StatusFormatting {
		return nil, types.Wrap(types.ErrConflict, "regenerate", "", fmt.Sprintf("job is %s, not formatting", job.Status), nil)
	}
	logger := d.logger.With("job_id", job.ID)
	defer d.deps.Broadcaster.Release(job.ID)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("regenerate panic", "panic", r, "stack", string(debug.Stack()))
			done, err = nil, d.fail(ctx, logger, job, fmt.Errorf("pipeline panic: %v", r))
		}
	}()

	logger.Info("regenerating formatted text")
	if err := d.format(ctx, logger, job); err != nil {
		return nil, d.fail(ctx, logger, job, err)
	}
	return job, nil
}

func (d *Driver) run(ctx context.Context, logger *slog.Logger, job *types.Job) error {
	if err := d.commit(ctx, job, types.NewEvent(types.StatusDownloading, "Downloading audio")); err != nil {
		return err
	}
	audioPath, err := d.acquire(ctx, logger, job)
	if err != nil {
		return err
	}

	if err := d.commit(ctx, job, types.NewEvent(types.StatusTranscribing, "Transcribing")); err != nil {
		return err
	}
	provider, ok := d.deps.Providers.Get(job.Provider)
	if !ok {
		return types.Wrap(types.ErrValidation, "transcribe", "", fmt.Sprintf("unsupported provider %q", job.Provider), nil)
	}
	raw, err := provider.Transcribe(ctx, transcription.Request{
		AudioPath:  audioPath,
		JobID:      job.ID,
		Model:      job.Model,
		OnProgress: d.progress(job.ID),
		OnTaskHandle: func(handle string) {
			job.ProviderTaskHandle = handle
			if err := d.deps.Store.Update(ctx, job); err != nil {
				logger.Warn("persist task handle failed", "task_handle", handle, "error", err)
			}
		},
	})
	if err != nil {
		return err
	}
	job.RawText = raw
	logger.Info("transcription done", "length", len(raw))

	if err := d.commit(ctx, job, types.ProgressEvent{
		Stage:   types.StatusFormatting,
		Message: types.Ptr("Formatting"),
		RawText: types.Ptr(raw),
		Words:   types.Ptr(types.WordCount(raw)),
	}); err != nil {
		return err
	}
	return d.format(ctx, logger, job)
}

// acquire resolves the job's audio through the cache, downloading on a miss.
func (d *Driver) acquire(ctx context.Context, logger *slog.Logger, job *types.Job) (string, error) {
	res, err := d.deps.Cache.Acquire(ctx, job.URL, func(ctx context.Context, destBase string) (string, error) {
		return d.deps.Downloader.Download(ctx, job.URL, destBase)
	})
	if err != nil {
		return "", err
	}
	if res.Downloaded {
		logger.Info("audio downloaded", "path", res.Path, "cache_key", res.Key)
	} else {
		logger.Info("cache hit", "path", res.Path, "cache_key", res.Key)
		d.deps.Broadcaster.Broadcast(job.ID, types.NewEvent(types.StatusDownloading, "Cache hit, reuse audio"))
	}
	if _, err := os.Stat(res.Path); err != nil {
		return "", types.Wrap(types.ErrLocalIO, "download", "", "audio file missing: "+res.Path, err)
	}
	return res.Path, nil
}

// format runs the formatter against job.RawText and commits done.
func (d *Driver) format(ctx context.Context, logger *slog.Logger, job *types.Job) error {
	formatted := ""
	if strings.TrimSpace(job.RawText) != "" {
		var err error
		formatted, err = d.deps.Formatter.Format(ctx, job.RawText, job.ID, d.progress(job.ID))
		if err != nil {
			return err
		}
	}
	job.FormattedText = formatted
	logger.Info("formatting done", "length", len(formatted))

	return d.commit(ctx, job, types.ProgressEvent{
		Stage:         types.StatusDone,
		Message:       types.Ptr("Done"),
		FormattedText: types.Ptr(formatted),
		Words:         types.Ptr(types.WordCount(formatted)),
	})
}

// commit moves job to ev.Stage, persists it and only then broadcasts ev.
func (d *Driver) commit(ctx context.Context, job *types.Job, ev types.ProgressEvent) error {
	if !types.CanTransition(job.Status, ev.Stage) {
		return fmt.Errorf("invalid status transition %s -> %s", job.Status, ev.Stage)
	}
	job.Status = ev.Stage
	if err := d.deps.Store.Update(ctx, job); err != nil {
		return err
	}
	d.deps.Broadcaster.Broadcast(job.ID, ev)
	return nil
}

// fail records cause on the job. The write survives cancellation of ctx so
// shutdown still leaves a terminal status behind.
func (d *Driver) fail(ctx context.Context, logger *slog.Logger, job *types.Job, cause error) error {
	msg := cause.Error()
	logger.Error("job failed", "status", job.Status, "error", msg)

	job.Status = types.StatusError
	job.Error = msg
	if err := d.deps.Store.Update(context.WithoutCancel(ctx), job); err != nil {
		logger.Error("persist job error failed", "error", err)
	}
	d.deps.Broadcaster.Broadcast(job.ID, types.ProgressEvent{
		Stage:   types.StatusError,
		Message: types.Ptr(msg),
		Error:   types.Ptr(msg),
	})
	return cause
}

func (d *Driver) progress(jobID string) transcription.ProgressFunc {
	return func(ev types.ProgressEvent) {
		d.deps.Broadcaster.Broadcast(jobID, ev)
	}
}

// Export hands a finished job to every exporter. Failures are logged and
// never change the job.
func (d *Driver) Export(ctx context.Context, job *types.Job) {
	if job == nil || len(d.deps.Exporters) == 0 {
		return
	}
	logger := d.logger.With("job_id", job.ID)
	for _, ex := range d.deps.Exporters {
		var (
			location string
			err      error
		)
		for attempt := 1; attempt <= d.exportAttempts; attempt++ {
			location, err = ex.Export(ctx, job)
			if err == nil {
				break
			}
			logger.Warn("export attempt failed", "exporter", ex.Name(), "attempt", attempt, "max_attempts", d.exportAttempts, "error", err)
			if attempt < d.exportAttempts {
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Duration(attempt*attempt) * d.exportBackoff):
				}
			}
		}
		if err != nil {
			logger.Warn("export failed", "exporter", ex.Name(), "error", err)
			continue
		}
		logger.Info("transcript exported", "exporter", ex.Name(), "location", location)
	}
}
