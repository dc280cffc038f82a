package cleanup

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Scheduler periodically removes stale scratch files left behind by
// interrupted downloads. The audio cache itself is never swept.
type Scheduler struct {
	dir      string
	interval time.Duration
	maxAge   time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// Stats summarizes one sweep.
type Stats struct {
	Deleted int
	Bytes   int64
}

// NewScheduler creates a new cleanup scheduler
func NewScheduler(dir string, intervalMinutes, maxAgeHours int, logger *slog.Logger) *Scheduler {
	if intervalMinutes <= 0 {
		intervalMinutes = 60
	}
	if maxAgeHours <= 0 {
		maxAgeHours = 24
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		dir:      dir,
		interval: time.Duration(intervalMinutes) * time.Minute,
		maxAge:   time.Duration(maxAgeHours) * time.Hour,
		logger:   logger.With("component", "cleanup"),
		now:      time.Now,
	}
}

// Run sweeps once immediately, then on every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("cleanup scheduler started", "dir", s.dir, "interval", s.interval, "max_age", s.maxAge)
	s.Sweep()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("cleanup scheduler stopped")
			return nil
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep removes files older than the max age from the scratch directory.
func (s *Scheduler) Sweep() Stats {
	var stats Stats
	cutoff := s.now().Add(-s.maxAge)

	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			s.logger.Warn("failed to delete stale file", "path", path, "error", err)
			return nil
		}
		stats.Deleted++
		stats.Bytes += info.Size()
		s.logger.Debug("deleted stale file", "file", filepath.Base(path), "age", s.now().Sub(info.ModTime()).Round(time.Minute))
		return nil
	})
	if err != nil {
		s.logger.Warn("cleanup walk failed", "error", err)
	}

	if stats.Deleted > 0 {
		s.logger.Info("cleanup complete",
			"deleted", stats.Deleted,
			"freed_mb", float64(stats.Bytes)/(1024*1024))
	}
	return stats
}
