package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

// ResearchMessage asks a worker to execute one research job.
type ResearchMessage struct {
	JobID      uuid.UUID
	EnqueuedAt time.Time
	Attempt    int
	TraceID    *string
}

type Producer interface {
	Enqueue(ctx context.Context, msg ResearchMessage) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, msg ResearchMessage) error {
	attempt := msg.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	enqueuedAt := msg.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = time.Now().UTC()
	}

	fields := map[string]any{
		"job_id":      msg.JobID.String(),
		"enqueued_at": enqueuedAt.Format(time.RFC3339Nano),
		"attempt":     attempt,
	}

	traceID := msg.TraceID
	if traceID == nil {
		// Carry the caller's trace across the process boundary.
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			tid := sc.TraceID().String()
			traceID = &tid
		}
	}
	if traceID != nil && *traceID != "" {
		fields["trace_id"] = *traceID
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue research job: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued research job", "job_id", msg.JobID, "attempt", attempt)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
