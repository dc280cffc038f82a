package handlers

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/media-transcriber/internal/progress"
	"github.com/codebuildervaibhav/media-transcriber/internal/types"
)

// AccessUserHeader carries the caller identity set by an access proxy.
const AccessUserHeader = "Cf-Access-Authenticated-User-Email"

// JobService is the job boundary the HTTP layer drives.
type JobService interface {
	Create(ctx context.Context, url, provider, model string) (*types.Job, error)
	Get(ctx context.Context, id string) (*types.Job, error)
	List(ctx context.Context, limit int) ([]*types.Job, error)
	Regenerate(ctx context.Context, id string) (*types.Job, error)
	Subscribe(ctx context.Context, id string) (*progress.Subscription, types.ProgressEvent, error)
	Unsubscribe(sub *progress.Subscription)
}

// JobsHandler serves the job REST endpoints
type JobsHandler struct {
	jobs   JobService
	logger *slog.Logger
}

// NewJobsHandler creates a new jobs handler
func NewJobsHandler(jobs JobService, logger *slog.Logger) *JobsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobsHandler{
		jobs:   jobs,
		logger: logger.With("component", "http"),
	}
}

// CreateJobRequest represents the request body
type CreateJobRequest struct {
	URL      string `json:"url"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Create validates and queues a new job
func (h *JobsHandler) Create(c *fiber.Ctx) error {
	var req CreateJobRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
			"code":  "ERR_INVALID_BODY",
		})
	}
	if req.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "URL is required",
			"code":  "ERR_NO_URL",
		})
	}

	if user := c.Get(AccessUserHeader); user != "" {
		h.logger.Info("job requested", "user", user, "url", req.URL)
	}

	job, err := h.jobs.Create(c.UserContext(), req.URL, req.Provider, req.Model)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(job)
}

// List returns recent jobs, newest first
func (h *JobsHandler) List(c *fiber.Ctx) error {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a non-negative integer",
				"code":  "ERR_INVALID_LIMIT",
			})
		}
		limit = n
	}
	jobs, err := h.jobs.List(c.UserContext(), limit)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(fiber.Map{"jobs": jobs})
}

// Get returns one job
func (h *JobsHandler) Get(c *fiber.Ctx) error {
	job, err := h.jobs.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(job)
}

// Regenerate reruns formatting for a finished job
func (h *JobsHandler) Regenerate(c *fiber.Ctx) error {
	job, err := h.jobs.Regenerate(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(job)
}

func (h *JobsHandler) writeError(c *fiber.Ctx, err error) error {
	status, code := classify(err)
	if status >= fiber.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
		"code":  code,
	})
}

// classify maps error markers to an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, types.ErrValidation):
		return fiber.StatusBadRequest, "ERR_VALIDATION"
	case errors.Is(err, types.ErrNotFound):
		return fiber.StatusNotFound, "ERR_NOT_FOUND"
	case errors.Is(err, types.ErrConflict):
		return fiber.StatusConflict, "ERR_CONFLICT"
	case errors.Is(err, types.ErrQueueFull):
		return fiber.StatusServiceUnavailable, "ERR_QUEUE_FULL"
	default:
		return fiber.StatusInternalServerError, "ERR_INTERNAL"
	}
}
