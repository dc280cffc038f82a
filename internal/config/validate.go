package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable. Vendor credentials are not
// checked here; a provider without credentials fails its own jobs.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Workers.Count <= 0 {
		return errors.New("workers.count must be positive")
	}
	if c.Workers.QueueSize < 0 {
		return errors.New("workers.queue_size must not be negative")
	}
	if c.Progress.SubscriberBuffer <= 0 {
		return errors.New("progress.subscriber_buffer must be positive")
	}
	if c.Storage.Database == "" {
		return errors.New("storage.database must be set")
	}
	if c.Storage.CacheDir == "" {
		return errors.New("storage.cache_dir must be set")
	}
	if c.Storage.ScratchDir == "" {
		return errors.New("storage.scratch_dir must be set")
	}
	if len(c.Jobs.AllowedHosts) == 0 {
		return errors.New("jobs.allowed_hosts must list at least one host")
	}
	switch c.Jobs.DefaultProvider {
	case "openai", "bailian":
	default:
		return fmt.Errorf("jobs.default_provider: unsupported value %q", c.Jobs.DefaultProvider)
	}
	if c.Jobs.ListLimit <= 0 {
		return errors.New("jobs.list_limit must be positive")
	}
	if c.Bailian.PollIntervalSeconds <= 0 {
		return errors.New("bailian.poll_interval_seconds must be positive")
	}
	if c.Cleanup.IntervalMinutes <= 0 || c.Cleanup.MaxAgeHours <= 0 {
		return errors.New("cleanup.interval_minutes and cleanup.max_age_hours must be positive")
	}
	switch c.Logging.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}
