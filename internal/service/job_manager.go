package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"shopscout.app/research/internal/model"
	"shopscout.app/research/internal/store"
)

// ErrJobNotFound is returned when a job id does not resolve to a stored job.
var ErrJobNotFound = errors.New("job not found")

// ErrInvalidRequest marks creation failures caused by the caller's input.
// The HTTP layer maps it to a 400.
var ErrInvalidRequest = errors.New("invalid research request")

// Job priority bounds. Requests outside the range are rejected; a zero
// priority means the caller left it unset and gets the default.
const (
	MinPriority     = 1
	MaxPriority     = 10
	DefaultPriority = 5
)

// JobManager owns the research job lifecycle outside of execution: creation
// with validation, reads, cancellation, retention cleanup, and statistics.
type JobManager interface {
	CreateJob(ctx context.Context, items []model.ResearchItem, priority int, callbackURL *string, previewEnabled bool) (*model.ResearchJob, error)
	GetJob(ctx context.Context, id uuid.UUID) (*model.ResearchJob, error)
	GetJobWithFilteredResults(ctx context.Context, id uuid.UUID, includeFailed bool) (*model.ResearchJob, error)
	CancelJob(ctx context.Context, id uuid.UUID) (bool, error)
	CleanupOldJobs(ctx context.Context, maxAge time.Duration) (int64, error)
	ActiveJobs(ctx context.Context) ([]model.ResearchJob, error)
	Statistics(ctx context.Context) (*store.JobStatistics, error)
}

type jobManager struct {
	jobStore store.JobStore
	maxBatch int
	logger   *slog.Logger
}

func NewJobManager(jobStore store.JobStore, maxBatchSize int, logger *slog.Logger) JobManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &jobManager{
		jobStore: jobStore,
		maxBatch: maxBatchSize,
		logger:   logger,
	}
}

func (m *jobManager) CreateJob(ctx context.Context, items []model.ResearchItem, priority int, callbackURL *string, previewEnabled bool) (*model.ResearchJob, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: research job must contain at least one item", ErrInvalidRequest)
	}
	if m.maxBatch > 0 && len(items) > m.maxBatch {
		return nil, fmt.Errorf("%w: research job exceeds maximum batch size of %d items (got %d)", ErrInvalidRequest, m.maxBatch, len(items))
	}
	for i, item := range items {
		if err := item.Validate(); err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", ErrInvalidRequest, i, err)
		}
	}
	if priority == 0 {
		priority = DefaultPriority
	}
	if priority < MinPriority || priority > MaxPriority {
		return nil, fmt.Errorf("%w: job priority must be between %d and %d (got %d)", ErrInvalidRequest, MinPriority, MaxPriority, priority)
	}

	job := model.NewResearchJob(items, priority, callbackURL)
	job.Metadata.PreviewEnabled = previewEnabled

	if err := m.jobStore.Create(ctx, job); err != nil {
		m.logger.ErrorContext(ctx, "failed to create research job",
			"error", err,
			"items", len(items),
		)
		return nil, fmt.Errorf("creating job: %w", err)
	}

	m.logger.InfoContext(ctx, "research job created",
		"job_id", job.ID,
		"items", len(items),
		"priority", priority,
		"preview_enabled", previewEnabled,
	)
	return job, nil
}

func (m *jobManager) GetJob(ctx context.Context, id uuid.UUID) (*model.ResearchJob, error) {
	job, err := m.jobStore.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("fetching job: %w", err)
	}
	return job, nil
}

// GetJobWithFilteredResults returns the job, optionally narrowing results to
// successes only. The filtered view is a copy; the stored job is never
// mutated by a read.
func (m *jobManager) GetJobWithFilteredResults(ctx context.Context, id uuid.UUID, includeFailed bool) (*model.ResearchJob, error) {
	job, err := m.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if includeFailed {
		return job, nil
	}

	filtered := *job
	filtered.Results = make([]model.ResearchResult, 0, len(job.Results))
	for _, r := range job.Results {
		if r.Status == model.ResultStatusSuccess {
			filtered.Results = append(filtered.Results, r)
		}
	}
	return &filtered, nil
}

// CancelJob transitions a pending or processing job to cancelled. It returns
// false, not an error, when the job is missing or already terminal; an
// execution already in flight keeps running and its result is discarded at
// the final write.
func (m *jobManager) CancelJob(ctx context.Context, id uuid.UUID) (bool, error) {
	cancelled, err := m.jobStore.CancelIfActive(ctx, id, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("cancelling job: %w", err)
	}
	if !cancelled {
		m.logger.WarnContext(ctx, "job not cancellable", "job_id", id)
		return false, nil
	}

	m.logger.InfoContext(ctx, "research job cancelled", "job_id", id)
	return true, nil
}

// CleanupOldJobs removes terminal jobs whose completion is older than maxAge.
func (m *jobManager) CleanupOldJobs(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		return 0, nil
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	removed, err := m.jobStore.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting old jobs: %w", err)
	}
	if removed > 0 {
		m.logger.InfoContext(ctx, "cleaned up old jobs", "removed", removed, "max_age", maxAge.String())
	}
	return removed, nil
}

// ActiveJobs lists jobs currently held by a worker, oldest first.
func (m *jobManager) ActiveJobs(ctx context.Context) ([]model.ResearchJob, error) {
	jobs, err := m.jobStore.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active jobs: %w", err)
	}
	return jobs, nil
}

func (m *jobManager) Statistics(ctx context.Context) (*store.JobStatistics, error) {
	stats, err := m.jobStore.Statistics(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching job statistics: %w", err)
	}
	return stats, nil
}
