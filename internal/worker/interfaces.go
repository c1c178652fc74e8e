package worker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"shopscout.app/research/internal/queue"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// JobExecutor runs one research job to completion.
// Satisfied by service.ResearchOrchestrator - defined here to avoid import cycles.
type JobExecutor interface {
	ExecuteJob(ctx context.Context, jobID uuid.UUID) error
}

// JobStore is the slice of job persistence the retry path needs.
// Satisfied by store.JobStore.
type JobStore interface {
	ResetForRetry(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}
