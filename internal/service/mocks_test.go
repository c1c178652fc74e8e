package service_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"shopscout.app/research/internal/model"
	"shopscout.app/research/internal/pubsub"
	"shopscout.app/research/internal/queue"
	"shopscout.app/research/internal/research"
	"shopscout.app/research/internal/service"
	"shopscout.app/research/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockJobStore struct {
	createFn               func(ctx context.Context, job *model.ResearchJob) error
	getByIDFn              func(ctx context.Context, id uuid.UUID) (*model.ResearchJob, error)
	updateFn               func(ctx context.Context, job *model.ResearchJob) (bool, error)
	updateStatusFn         func(ctx context.Context, id uuid.UUID, status model.JobStatus, fields store.UpdateFields) (bool, error)
	claimPendingFn         func(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	cancelIfActiveFn       func(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	resetForRetryFn        func(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	listPendingFn          func(ctx context.Context, limit int32) ([]model.ResearchJob, error)
	listActiveFn           func(ctx context.Context) ([]model.ResearchJob, error)
	deleteTerminalBeforeFn func(ctx context.Context, cutoff time.Time) (int64, error)
	statisticsFn           func(ctx context.Context) (*store.JobStatistics, error)

	createCalls int
	updateCalls int
}

func (m *mockJobStore) Create(ctx context.Context, job *model.ResearchJob) error {
	m.createCalls++
	if m.createFn != nil {
		return m.createFn(ctx, job)
	}
	return nil
}

func (m *mockJobStore) GetByID(ctx context.Context, id uuid.UUID) (*model.ResearchJob, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (m *mockJobStore) Update(ctx context.Context, job *model.ResearchJob) (bool, error) {
	m.updateCalls++
	if m.updateFn != nil {
		return m.updateFn(ctx, job)
	}
	return true, nil
}

func (m *mockJobStore) UpdateStatus(ctx context.Context, id uuid.UUID, status model.JobStatus, fields store.UpdateFields) (bool, error) {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, id, status, fields)
	}
	return true, nil
}

func (m *mockJobStore) ClaimPending(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	if m.claimPendingFn != nil {
		return m.claimPendingFn(ctx, id, at)
	}
	return true, nil
}

func (m *mockJobStore) CancelIfActive(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	if m.cancelIfActiveFn != nil {
		return m.cancelIfActiveFn(ctx, id, at)
	}
	return true, nil
}

func (m *mockJobStore) ResetForRetry(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	if m.resetForRetryFn != nil {
		return m.resetForRetryFn(ctx, id, at)
	}
	return true, nil
}

func (m *mockJobStore) ListPending(ctx context.Context, limit int32) ([]model.ResearchJob, error) {
	if m.listPendingFn != nil {
		return m.listPendingFn(ctx, limit)
	}
	return nil, nil
}

func (m *mockJobStore) ListActive(ctx context.Context) ([]model.ResearchJob, error) {
	if m.listActiveFn != nil {
		return m.listActiveFn(ctx)
	}
	return nil, nil
}

func (m *mockJobStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.deleteTerminalBeforeFn != nil {
		return m.deleteTerminalBeforeFn(ctx, cutoff)
	}
	return 0, nil
}

func (m *mockJobStore) Statistics(ctx context.Context) (*store.JobStatistics, error) {
	if m.statisticsFn != nil {
		return m.statisticsFn(ctx)
	}
	return &store.JobStatistics{}, nil
}

type mockStoreProvider struct {
	jobs *mockJobStore
}

func (m *mockStoreProvider) Jobs() store.JobStore { return m.jobs }

type mockTxRunner struct {
	withTxFn func(ctx context.Context, fn func(stores service.StoreProvider) error) error
}

func (m *mockTxRunner) WithTx(ctx context.Context, fn func(stores service.StoreProvider) error) error {
	if m.withTxFn != nil {
		return m.withTxFn(ctx, fn)
	}
	return fn(&mockStoreProvider{jobs: &mockJobStore{}})
}

type mockCoordinator struct {
	researchFn func(ctx context.Context, items []model.ResearchItem) ([]model.ResearchResult, error)
	healthFn   func() research.Health
	maxBatch   int

	mu    sync.Mutex
	calls int
}

func (m *mockCoordinator) ResearchProducts(ctx context.Context, items []model.ResearchItem) ([]model.ResearchResult, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.researchFn != nil {
		return m.researchFn(ctx, items)
	}
	return nil, nil
}

func (m *mockCoordinator) MaxBatchSize() int {
	if m.maxBatch > 0 {
		return m.maxBatch
	}
	return 10
}

func (m *mockCoordinator) HealthCheck(context.Context) research.Health {
	if m.healthFn != nil {
		return m.healthFn()
	}
	return research.Health{
		Status: "healthy",
		Checks: map[string]research.Check{
			"api_client":      {Status: "healthy"},
			"query_builder":   {Status: "healthy"},
			"response_parser": {Status: "healthy"},
		},
	}
}

func (m *mockCoordinator) Status() map[string]any {
	return map[string]any{"max_batch_size": m.MaxBatchSize()}
}

func (m *mockCoordinator) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockPublisher records published messages; execution runs on a background
// goroutine, so access is locked.
type mockPublisher struct {
	publishFn func(ctx context.Context, msg pubsub.Message) error

	mu       sync.Mutex
	messages []pubsub.Message
}

func (m *mockPublisher) Publish(ctx context.Context, msg pubsub.Message) error {
	m.mu.Lock()
	m.messages = append(m.messages, msg)
	m.mu.Unlock()
	if m.publishFn != nil {
		return m.publishFn(ctx, msg)
	}
	return nil
}

func (m *mockPublisher) byType(t pubsub.MessageType) []pubsub.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []pubsub.Message
	for _, msg := range m.messages {
		if msg.MessageType == t {
			out = append(out, msg)
		}
	}
	return out
}

type mockProducer struct {
	enqueueFn func(ctx context.Context, msg queue.ResearchMessage) error
	enqueued  []queue.ResearchMessage
}

func (m *mockProducer) Enqueue(ctx context.Context, msg queue.ResearchMessage) error {
	m.enqueued = append(m.enqueued, msg)
	if m.enqueueFn != nil {
		return m.enqueueFn(ctx, msg)
	}
	return nil
}

func (m *mockProducer) Close() error { return nil }

func strPtr(s string) *string { return &s }

func i64Ptr(i int64) *int64 { return &i }

func intPtr(i int) *int { return &i }

func boolPtr(b bool) *bool { return &b }
