package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"shopscout.app/research/common/llm"
	"shopscout.app/research/common/logger"
	"shopscout.app/research/internal/queue"
)

type Config struct {
	MaxAttempts  int
	RetryBackoff Backoff // delay schedule between retryable attempts, nil = retry immediately
}

type Worker struct {
	consumer Consumer
	jobs     JobStore
	executor JobExecutor
	cfg      Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, jobs JobStore, executor JobExecutor, cfg Config) *Worker {
	return &Worker{
		consumer: consumer,
		jobs:     jobs,
		executor: executor,
		cfg:      cfg,

		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	slog.InfoContext(ctx, "worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				// Brief backoff on error
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		if err := w.processMessageSafe(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "job processing failed",
				"error", err,
				"message_id", msg.ID,
				"job_id", msg.JobID)
			w.handleFailedMessage(ctx, msg, err)
		}
	}

	return nil
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing",
				"panic", r,
				"message_id", msg.ID,
				"job_id", msg.JobID)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.ProcessMessage(ctx, msg)
}

// Exported so it can be reused by the reclaimer.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	sc := logger.StartSpanFromTraceID(ctx, msg.TraceID, "worker.process_message",
		trace.WithSpanKind(trace.SpanKindConsumer))
	defer sc.End()
	ctx = sc.Context()

	jobID := msg.JobID.String()
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		JobID:     &jobID,
		MessageID: &msg.ID,
		Attempt:   &msg.Attempt,
		Component: "research.worker",
	})

	slog.InfoContext(ctx, "processing job message",
		"enqueued_at", msg.EnqueuedAt)

	start := time.Now()
	if err := w.executor.ExecuteJob(ctx, msg.JobID); err != nil {
		sc.RecordError(err)
		return err
	}

	// Execution succeeded (or the job was not claimable) - ACK the message
	if err := w.consumer.Ack(ctx, msg); err != nil {
		// Log but don't fail - the reclaimer will redeliver, and a
		// redelivered job fails the pending claim and gets dropped
		slog.WarnContext(ctx, "failed to ACK message", "error", err)
	}

	slog.InfoContext(ctx, "job message processed",
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, procErr error) {
	if msg.Attempt >= w.cfg.MaxAttempts || !llm.IsRetryable(ctx, procErr) {
		slog.ErrorContext(ctx, "job not retryable, sending to DLQ",
			"message_id", msg.ID,
			"job_id", msg.JobID,
			"attempts", msg.Attempt)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, procErr.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	// The failed run may have left the job terminal; put it back so the
	// retry can claim it. A refusal means the job was cancelled, finished,
	// or deleted in the meantime, and the message is dropped.
	reset, err := w.jobs.ResetForRetry(ctx, msg.JobID, time.Now().UTC())
	if err != nil {
		slog.ErrorContext(ctx, "failed to reset job for retry",
			"error", err,
			"job_id", msg.JobID)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, procErr.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}
	if !reset {
		slog.InfoContext(ctx, "job no longer retryable, dropping message",
			"job_id", msg.JobID)
		if ackErr := w.consumer.Ack(ctx, msg); ackErr != nil {
			slog.WarnContext(ctx, "failed to ACK dropped message", "error", ackErr)
		}
		return
	}

	delay := w.retryDelay(msg.Attempt)
	slog.WarnContext(ctx, "requeuing failed job",
		"message_id", msg.ID,
		"job_id", msg.JobID,
		"attempt", msg.Attempt,
		"delay", delay.String())

	if !w.wait(ctx, delay) {
		// Shutting down mid-delay: the message stays pending and the
		// reclaimer picks it up after restart
		return
	}
	if requeueErr := w.consumer.Requeue(ctx, msg, procErr.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}

func (w *Worker) retryDelay(attempt int) time.Duration {
	if w.cfg.RetryBackoff == nil {
		return 0
	}
	return w.cfg.RetryBackoff.Delay(attempt)
}

// wait blocks for d, returning false if the worker stops first.
func (w *Worker) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
