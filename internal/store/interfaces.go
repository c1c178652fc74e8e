package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"shopscout.app/research/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// UpdateFields carries the optional columns a status transition sets
// alongside the status itself. Nil fields are left untouched.
type UpdateFields struct {
	StartedAt        *time.Time
	CompletedAt      *time.Time
	ProcessingTimeMS *int64
	Metadata         *model.JobMetadata
}

// JobStatistics aggregates job counts by status.
type JobStatistics struct {
	Total      int64 `json:"total"`
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`
}

// JobStore defines the contract for research job data access
type JobStore interface {
	Create(ctx context.Context, job *model.ResearchJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.ResearchJob, error)
	// Update persists everything mutable on a live job; items are fixed at
	// Create. It only writes while the row is still pending or processing,
	// returning false once the job has gone terminal (or vanished), so a
	// worker finishing after a cancel cannot resurrect the job.
	Update(ctx context.Context, job *model.ResearchJob) (bool, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.JobStatus, fields UpdateFields) (bool, error)
	ClaimPending(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)   // pending -> processing, false if no longer pending
	CancelIfActive(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) // false if missing or already terminal
	// ResetForRetry returns a job that failed mid-execution to pending so a
	// retry can claim it again. Refuses cancelled and completed jobs, so a
	// queued retry cannot resurrect a job the caller ended on purpose.
	ResetForRetry(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	ListPending(ctx context.Context, limit int32) ([]model.ResearchJob, error)
	ListActive(ctx context.Context) ([]model.ResearchJob, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Statistics(ctx context.Context) (*JobStatistics, error)
}
