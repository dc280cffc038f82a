package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/codebuildervaibhav/media-transcriber/internal/cache"
	"github.com/codebuildervaibhav/media-transcriber/internal/cleanup"
	"github.com/codebuildervaibhav/media-transcriber/internal/config"
	"github.com/codebuildervaibhav/media-transcriber/internal/download"
	"github.com/codebuildervaibhav/media-transcriber/internal/handlers"
	"github.com/codebuildervaibhav/media-transcriber/internal/logging"
	"github.com/codebuildervaibhav/media-transcriber/internal/progress"
	"github.com/codebuildervaibhav/media-transcriber/internal/queue"
	"github.com/codebuildervaibhav/media-transcriber/internal/storage"
	"github.com/codebuildervaibhav/media-transcriber/internal/transcription"
)

const logBufferLines = 1000

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and job workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logs := logging.NewBuffer(logBufferLines)
			logger, err := logging.NewFromConfig(cfg, logs)
			if err != nil {
				return err
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(runCtx, cfg, logs, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logs *logging.Buffer, logger *slog.Logger) error {
	logger.Info("initializing components")

	store, err := storage.NewJobStore(cfg.Storage.Database)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer store.Close()
	if n, err := store.FailInterrupted(ctx, "interrupted by server restart"); err != nil {
		return err
	} else if n > 0 {
		logger.Warn("marked interrupted jobs as failed", "count", n)
	}

	audioCache, err := cache.New(cfg.Storage.CacheDir, cfg.Storage.ScratchDir, logger)
	if err != nil {
		return fmt.Errorf("open audio cache: %w", err)
	}

	downloader := download.NewYtDlp(download.Options{
		Binary:       cfg.Downloader.Binary,
		Format:       cfg.Downloader.Format,
		AudioFormat:  cfg.Downloader.AudioFormat,
		AudioQuality: cfg.Downloader.AudioQuality,
	}, logger)
	if path, ok := downloader.Available(); ok {
		logger.Info("downloader ready", "binary", path)
	} else {
		logger.Warn("downloader binary not found on PATH, downloads will fail", "binary", cfg.Downloader.Binary)
	}

	providers := buildProviders(cfg, logger)
	formatter := transcription.NewFormatter(transcription.FormatterConfig{
		APIKey:  cfg.Formatter.APIKey,
		BaseURL: cfg.Formatter.BaseURL,
		Model:   cfg.Formatter.Model,
	}, logger)

	broadcaster := progress.NewBroadcaster(cfg.Progress.SubscriberBuffer, logger)

	driver := queue.NewDriver(queue.DriverDeps{
		Store:       store,
		Cache:       audioCache,
		Downloader:  downloader,
		Providers:   providers,
		Formatter:   formatter,
		Broadcaster: broadcaster,
		Exporters:   buildExporters(ctx, cfg, logger),
	}, logger)

	service := queue.NewService(queue.ServiceConfig{
		AllowedHosts:    cfg.Jobs.AllowedHosts,
		DefaultProvider: cfg.Jobs.DefaultProvider,
		ListLimit:       cfg.Jobs.ListLimit,
		Workers:         cfg.Workers.Count,
		QueueSize:       cfg.Workers.QueueSize,
	}, store, driver, broadcaster, providers, logger)
	service.Start(ctx)
	defer service.Stop()

	app := handlers.NewApp(handlers.AppConfig{
		AllowOrigins: cfg.CORS.AllowOrigins,
		AccessLog:    cfg.Logging.Level == "debug",
	}, service, logs, logger)

	scheduler := cleanup.NewScheduler(cfg.Storage.ScratchDir, cfg.Cleanup.IntervalMinutes, cfg.Cleanup.MaxAgeHours, logger)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return scheduler.Run(groupCtx)
	})
	group.Go(func() error {
		logger.Info("server starting", "addr", cfg.Addr(), "providers", providers.Names())
		if err := app.Listen(cfg.Addr()); err != nil {
			return fmt.Errorf("listen %s: %w", cfg.Addr(), err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down gracefully")
		return app.ShutdownWithTimeout(10 * time.Second)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildProviders(cfg *config.Config, logger *slog.Logger) *transcription.Registry {
	objects := storage.NewS3(storage.S3Config{
		Endpoint:        cfg.ObjectStorage.Endpoint,
		PublicEndpoint:  cfg.ObjectStorage.PublicEndpoint,
		Region:          cfg.ObjectStorage.Region,
		Bucket:          cfg.ObjectStorage.Bucket,
		AccessKeyID:     cfg.ObjectStorage.AccessKeyID,
		SecretAccessKey: cfg.ObjectStorage.SecretAccessKey,
		SignExpiry:      time.Duration(cfg.ObjectStorage.SignExpireSeconds) * time.Second,
	})

	openai := transcription.NewOpenAI(transcription.OpenAIConfig{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.OpenAI.Model,
	}, logger)
	bailian := transcription.NewBailian(transcription.BailianConfig{
		APIKey:       cfg.Bailian.APIKey,
		BaseURL:      cfg.Bailian.BaseURL,
		Model:        cfg.Bailian.DefaultModel,
		Language:     cfg.Bailian.Language,
		PollInterval: time.Duration(cfg.Bailian.PollIntervalSeconds) * time.Second,
		Timeout:      time.Duration(cfg.Bailian.TimeoutSeconds) * time.Second,
	}, objects, logger)

	if cfg.OpenAI.APIKey == "" {
		logger.Warn("OPENAI_API_KEY not set, openai jobs will fail")
	}
	if cfg.Bailian.APIKey == "" {
		logger.Warn("DASHSCOPE_API_KEY not set, bailian jobs will fail")
	}
	return transcription.NewRegistry(openai, bailian)
}

func buildExporters(ctx context.Context, cfg *config.Config, logger *slog.Logger) []queue.Exporter {
	var exporters []queue.Exporter
	if cfg.Storage.OutputDir != "" {
		exporters = append(exporters, storage.NewLocalExporter(cfg.Storage.OutputDir))
	}

	if cfg.GoogleDrive.CredentialsFile == "" {
		return exporters
	}
	if _, err := os.Stat(cfg.GoogleDrive.CredentialsFile); err != nil {
		logger.Info("google drive credentials not found, transcripts stay local")
		return exporters
	}
	drive, err := storage.NewDriveExporter(ctx, cfg.GoogleDrive.CredentialsFile, cfg.GoogleDrive.TokenFile, cfg.GoogleDrive.FolderName)
	if err != nil {
		logger.Warn("google drive not available", "error", err)
		return exporters
	}
	logger.Info("google drive export enabled", "folder", cfg.GoogleDrive.FolderName)
	return append(exporters, drive)
}
