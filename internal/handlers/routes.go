package handlers

import (
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// LogSource exposes recently buffered log lines.
type LogSource interface {
	Lines() []string
}

// AppConfig holds the HTTP surface settings.
type AppConfig struct {
	AllowOrigins []string
	// AccessLog enables the per-request fiber logger.
	AccessLog bool
}

// NewApp wires middleware and routes for the job API.
func NewApp(cfg AppConfig, jobs JobService, logs LogSource, logger *slog.Logger) *fiber.App {
	if logger == nil {
		logger = slog.Default()
	}
	app := fiber.New(fiber.Config{
		AppName:               "media-transcriber",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	if cfg.AccessLog {
		app.Use(fiberlogger.New())
	}
	origins := "*"
	if len(cfg.AllowOrigins) > 0 {
		origins = strings.Join(cfg.AllowOrigins, ",")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, " + AccessUserHeader,
	}))

	jobsHandler := NewJobsHandler(jobs, logger)
	streamHandler := NewStreamHandler(jobs, logger)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"service": "media-transcriber", "version": Version})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"version": Version,
		})
	})

	api := app.Group("/api")
	api.Post("/jobs", jobsHandler.Create)
	api.Get("/jobs", jobsHandler.List)
	api.Get("/jobs/:id", jobsHandler.Get)
	api.Post("/jobs/:id/regenerate", jobsHandler.Regenerate)

	api.Get("/logs", func(c *fiber.Ctx) error {
		lines := []string{}
		if logs != nil {
			lines = logs.Lines()
		}
		return c.JSON(fiber.Map{"logs": lines})
	})

	api.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws/jobs/:id", websocket.New(streamHandler.Handle))

	return app
}
