package worker

import (
	"context"
	"log/slog"
	"time"

	"shopscout.app/research/common/logger"
)

// JobCleaner removes terminal jobs older than a cutoff.
// Satisfied by service.ResearchOrchestrator.
type JobCleaner interface {
	CleanupOldJobs(ctx context.Context, maxAge time.Duration) (int64, error)
}

type RetentionCleanerConfig struct {
	MaxAge   time.Duration
	Interval time.Duration
}

// RetentionCleaner periodically deletes terminal jobs that outlived the
// retention window. Completed and failed jobs keep their results until
// then so late readers and callbacks still find them.
type RetentionCleaner struct {
	cleaner JobCleaner
	cfg     RetentionCleanerConfig

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewRetentionCleaner(cleaner JobCleaner, cfg RetentionCleanerConfig) *RetentionCleaner {
	return &RetentionCleaner{
		cleaner:   cleaner,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run starts the cleanup loop. Blocks until Stop() is called.
func (c *RetentionCleaner) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "research.worker.retention",
	})

	defer close(c.stoppedCh)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "retention cleaner started",
		"interval", c.cfg.Interval,
		"max_age", c.cfg.MaxAge)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			slog.InfoContext(ctx, "retention cleaner stopping")
			return
		case <-ticker.C:
			removed, err := c.cleaner.CleanupOldJobs(ctx, c.cfg.MaxAge)
			if err != nil {
				slog.ErrorContext(ctx, "retention cleanup error", "error", err)
				continue
			}
			if removed > 0 {
				slog.InfoContext(ctx, "expired jobs removed", "count", removed)
			}
		}
	}
}

// Stop signals the cleaner to stop gracefully.
func (c *RetentionCleaner) Stop() {
	close(c.stopCh)
	<-c.stoppedCh
}
