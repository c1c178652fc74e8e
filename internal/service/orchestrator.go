package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"shopscout.app/research/internal/breaker"
	"shopscout.app/research/internal/model"
	"shopscout.app/research/internal/pubsub"
	"shopscout.app/research/internal/queue"
	"shopscout.app/research/internal/research"
	"shopscout.app/research/internal/store"
)

// ErrQueueNotConfigured is returned by EnqueueResearchJob when no queue
// producer was wired. The HTTP layer maps it to a 503.
var ErrQueueNotConfigured = errors.New("queue execution is not configured")

// ResearchCoordinator runs the external research call for one batch of
// items and self-probes its own pipeline. Implemented by research.Service.
type ResearchCoordinator interface {
	ResearchProducts(ctx context.Context, items []model.ResearchItem) ([]model.ResearchResult, error)
	MaxBatchSize() int
	HealthCheck(ctx context.Context) research.Health
	Status() map[string]any
}

// ComponentHealth is one component's slice of a health report.
type ComponentHealth struct {
	Status string         `json:"status"`
	Error  string         `json:"error,omitempty"`
	Detail map[string]any `json:"detail,omitempty"`
}

// SystemHealth is the aggregated health report across components.
type SystemHealth struct {
	OverallStatus string                     `json:"overall_status"`
	Components    map[string]ComponentHealth `json:"components"`
	Issues        []string                   `json:"issues,omitempty"`
}

// SystemStatus aggregates job, executor, and task state for the status
// surface. ActiveTasks counts in-process executions on this instance;
// ActiveJobs counts processing rows across the whole system.
type SystemStatus struct {
	JobStatistics  *store.JobStatistics     `json:"job_statistics"`
	ExecutorStatus map[string]breaker.Stats `json:"executor_status"`
	Research       map[string]any           `json:"research"`
	ActiveTasks    int                      `json:"active_tasks"`
	ActiveJobs     int                      `json:"active_jobs"`
	Services       map[string]string        `json:"services"`
}

// ResearchOrchestrator is the facade over job creation, background
// execution, and system probing. Every Create variant persists the job
// synchronously; execution always happens off the calling goroutine, either
// in-process (with a Task handle) or on a worker via the queue.
type ResearchOrchestrator interface {
	CreateResearchJob(ctx context.Context, items []model.ResearchItem, priority int, callbackURL *string) (*model.ResearchJob, *Task, error)
	CreateResearchJobWithPreview(ctx context.Context, items []model.ResearchItem, priority int, callbackURL *string) (*model.ResearchJob, *Task, error)
	EnqueueResearchJob(ctx context.Context, items []model.ResearchItem, priority int, callbackURL *string, previewEnabled bool) (*model.ResearchJob, error)
	ExecuteJob(ctx context.Context, jobID uuid.UUID) error
	Task(jobID uuid.UUID) (*Task, bool)
	ActiveTasks() int
	SystemHealth(ctx context.Context) *SystemHealth
	SystemStatus(ctx context.Context) (*SystemStatus, error)
	CleanupOldJobs(ctx context.Context, maxAge time.Duration) (int64, error)
}

// OrchestratorDeps wires the orchestrator's collaborators. Producer may be
// nil when queue execution is not configured (worker-less deployments).
type OrchestratorDeps struct {
	Manager     JobManager
	Stores      StoreProvider
	TxRunner    TxRunner
	Coordinator ResearchCoordinator
	Processor   *ResultProcessor
	Publisher   pubsub.Publisher
	Producer    queue.Producer
	Breakers    *breaker.Registry
	Logger      *slog.Logger
}

type orchestrator struct {
	manager     JobManager
	stores      StoreProvider
	txRunner    TxRunner
	coordinator ResearchCoordinator
	processor   *ResultProcessor
	publisher   pubsub.Publisher
	producer    queue.Producer
	breakers    *breaker.Registry
	logger      *slog.Logger

	mu    sync.Mutex
	tasks map[uuid.UUID]*Task
}

func NewOrchestrator(deps OrchestratorDeps) ResearchOrchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &orchestrator{
		manager:     deps.Manager,
		stores:      deps.Stores,
		txRunner:    deps.TxRunner,
		coordinator: deps.Coordinator,
		processor:   deps.Processor,
		publisher:   deps.Publisher,
		producer:    deps.Producer,
		breakers:    deps.Breakers,
		logger:      logger,
		tasks:       make(map[uuid.UUID]*Task),
	}
}

func (o *orchestrator) CreateResearchJob(ctx context.Context, items []model.ResearchItem, priority int, callbackURL *string) (*model.ResearchJob, *Task, error) {
	job, err := o.createJob(ctx, items, priority, callbackURL, false)
	if err != nil {
		return nil, nil, err
	}

	task := o.startJob(ctx, job.ID)
	o.logger.InfoContext(ctx, "research job started", "job_id", job.ID, "items", len(items))
	return job, task, nil
}

func (o *orchestrator) CreateResearchJobWithPreview(ctx context.Context, items []model.ResearchItem, priority int, callbackURL *string) (*model.ResearchJob, *Task, error) {
	job, err := o.createJob(ctx, items, priority, callbackURL, true)
	if err != nil {
		return nil, nil, err
	}

	task := o.startJob(ctx, job.ID)
	o.logger.InfoContext(ctx, "research job started with partner preview",
		"job_id", job.ID,
		"items", len(items),
		"previews", len(job.Results),
	)
	return job, task, nil
}

func (o *orchestrator) EnqueueResearchJob(ctx context.Context, items []model.ResearchItem, priority int, callbackURL *string, previewEnabled bool) (*model.ResearchJob, error) {
	if o.producer == nil {
		return nil, ErrQueueNotConfigured
	}

	job, err := o.createJob(ctx, items, priority, callbackURL, previewEnabled)
	if err != nil {
		return nil, err
	}

	if err := o.producer.Enqueue(ctx, queue.ResearchMessage{
		JobID:      job.ID,
		EnqueuedAt: time.Now().UTC(),
		Attempt:    1,
	}); err != nil {
		// The job row stays pending; retention will eventually collect it.
		return nil, fmt.Errorf("enqueueing job: %w", err)
	}

	o.logger.InfoContext(ctx, "research job enqueued", "job_id", job.ID, "items", len(items))
	return job, nil
}

// createJob persists a new job and, in preview mode, seeds it with partner
// preview results before execution starts.
func (o *orchestrator) createJob(ctx context.Context, items []model.ResearchItem, priority int, callbackURL *string, previewEnabled bool) (*model.ResearchJob, error) {
	job, err := o.manager.CreateJob(ctx, items, priority, callbackURL, previewEnabled)
	if err != nil {
		return nil, err
	}
	if !previewEnabled {
		return job, nil
	}

	previews := o.processor.ExtractPreviewResults(ctx, items)
	if len(previews) == 0 {
		return job, nil
	}
	for _, r := range previews {
		job.AddResult(r)
	}

	ok, err := o.stores.Jobs().Update(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("persisting preview results: %w", err)
	}
	if !ok {
		o.logger.WarnContext(ctx, "job went terminal before previews were written", "job_id", job.ID)
	}
	return job, nil
}

// startJob launches the execution on a background goroutine and registers
// its handle. The handle is removed once the execution finishes.
func (o *orchestrator) startJob(ctx context.Context, jobID uuid.UUID) *Task {
	task := newTask(jobID)

	o.mu.Lock()
	o.tasks[jobID] = task
	o.mu.Unlock()

	// The execution must outlive the request that spawned it: keep the
	// caller's values (trace context) but drop its cancellation.
	execCtx := context.WithoutCancel(ctx)

	go func() {
		defer func() {
			o.mu.Lock()
			delete(o.tasks, jobID)
			o.mu.Unlock()
		}()
		task.finish(o.executeWithRecovery(execCtx, jobID))
	}()

	return task
}

func (o *orchestrator) executeWithRecovery(ctx context.Context, jobID uuid.UUID) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("research execution panicked: %v", r)
			o.logger.ErrorContext(ctx, "research execution panicked", "panic", r, "job_id", jobID)
		}
	}()

	if err := o.ExecuteJob(ctx, jobID); err != nil {
		o.logger.ErrorContext(ctx, "background research execution failed", "error", err, "job_id", jobID)
		return err
	}
	return nil
}

// ExecuteJob runs one job's research synchronously: claim, call, merge,
// finalize. Safe to call more than once for the same job; only the caller
// that wins the pending->processing claim does any work. The final write is
// conditional on the job still being live, so a cancellation during the
// research call discards the late result.
func (o *orchestrator) ExecuteJob(ctx context.Context, jobID uuid.UUID) error {
	var (
		job     *model.ResearchJob
		claimed bool
	)
	if err := o.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		var err error
		claimed, err = sp.Jobs().ClaimPending(ctx, jobID, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("claiming job: %w", err)
		}
		if !claimed {
			return nil
		}
		job, err = sp.Jobs().GetByID(ctx, jobID)
		if err != nil {
			return fmt.Errorf("fetching claimed job: %w", err)
		}
		return nil
	}); err != nil {
		return err
	}
	if !claimed {
		o.logger.InfoContext(ctx, "job not claimable, skipping", "job_id", jobID)
		return nil
	}

	o.publish(ctx, pubsub.StatusMessage(job))
	if len(job.Items) > 0 {
		o.publish(ctx, pubsub.ProgressMessage(job.ID, 0, job.TotalItems, &job.Items[0].ProductName))
	}

	results, err := o.coordinator.ResearchProducts(ctx, job.Items)
	if err != nil {
		return o.failJob(ctx, job, fmt.Sprintf("Research execution failed: %v", err), err)
	}

	if job.Metadata.PreviewEnabled {
		o.processor.MergeResearchResults(ctx, job, results)
	} else {
		for _, r := range results {
			job.AddResult(r)
		}
	}
	job.Complete()

	ok, err := o.stores.Jobs().Update(ctx, job)
	if err != nil {
		return fmt.Errorf("persisting job results: %w", err)
	}
	if !ok {
		// Cancelled while the research call was in flight.
		o.logger.InfoContext(ctx, "job no longer active, discarding results", "job_id", job.ID)
		return nil
	}

	o.publish(ctx, pubsub.ProgressMessage(job.ID, job.TotalItems, job.TotalItems, nil))
	o.publish(ctx, pubsub.CompleteMessage(job))
	o.processor.ExecuteCallback(ctx, job)

	o.logger.InfoContext(ctx, "research job completed",
		"job_id", job.ID,
		"successful", job.SuccessfulItems,
		"failed", job.FailedItems,
		"total", job.TotalItems,
	)
	return nil
}

// failJob records a job-level execution failure. The write is conditional
// like the success path; a job cancelled mid-flight stays cancelled.
func (o *orchestrator) failJob(ctx context.Context, job *model.ResearchJob, msg string, cause error) error {
	o.logger.ErrorContext(ctx, "research job failed", "error", cause, "job_id", job.ID)

	job.Fail(msg)
	ok, err := o.stores.Jobs().Update(ctx, job)
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to persist job failure", "error", err, "job_id", job.ID)
	} else if ok {
		o.publish(ctx, pubsub.ErrorMessage(job.ID, "RESEARCH_FAILED", msg, nil))
	}

	return fmt.Errorf("executing research: %w", cause)
}

func (o *orchestrator) publish(ctx context.Context, msg pubsub.Message) {
	if err := o.publisher.Publish(ctx, msg); err != nil {
		o.logger.WarnContext(ctx, "failed to publish job update",
			"error", err,
			"job_id", msg.JobID,
			"message_type", msg.MessageType,
		)
	}
}

func (o *orchestrator) Task(jobID uuid.UUID) (*Task, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[jobID]
	return t, ok
}

func (o *orchestrator) ActiveTasks() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.tasks)
}

// SystemHealth probes each component without failing: one issue degrades the
// report, more than one marks it unhealthy.
func (o *orchestrator) SystemHealth(ctx context.Context) *SystemHealth {
	health := &SystemHealth{
		OverallStatus: "healthy",
		Components:    make(map[string]ComponentHealth),
	}

	if stats, err := o.manager.Statistics(ctx); err != nil {
		health.Components["job_manager"] = ComponentHealth{Status: "error", Error: err.Error()}
		health.Issues = append(health.Issues, fmt.Sprintf("job_manager: %v", err))
	} else {
		health.Components["job_manager"] = ComponentHealth{
			Status: "healthy",
			Detail: map[string]any{"total_jobs": stats.Total},
		}
	}

	executor := ComponentHealth{Status: "healthy", Detail: map[string]any{}}
	for service, stats := range o.breakers.Stats() {
		executor.Detail[service] = stats
		if stats.State == breaker.StateOpen {
			executor.Status = "degraded"
			issue := fmt.Sprintf("circuit breaker open: %s", service)
			if stats.TimeUntilRetry != nil {
				issue = fmt.Sprintf("%s (retry in %.0fs)", issue, *stats.TimeUntilRetry)
			}
			health.Issues = append(health.Issues, issue)
		}
	}
	health.Components["executor"] = executor

	probe := o.coordinator.HealthCheck(ctx)
	researcher := ComponentHealth{Status: probe.Status, Detail: map[string]any{}}
	for name, check := range probe.Checks {
		researcher.Detail[name] = check
		if check.Status != "healthy" {
			health.Issues = append(health.Issues, fmt.Sprintf("researcher %s: %s", name, check.Error))
		}
	}
	health.Components["researcher"] = researcher
	health.Components["result_processor"] = ComponentHealth{Status: "healthy"}

	switch len(health.Issues) {
	case 0:
	case 1:
		health.OverallStatus = "degraded"
	default:
		health.OverallStatus = "unhealthy"
	}
	return health
}

func (o *orchestrator) SystemStatus(ctx context.Context) (*SystemStatus, error) {
	stats, err := o.manager.Statistics(ctx)
	if err != nil {
		return nil, err
	}
	active, err := o.manager.ActiveJobs(ctx)
	if err != nil {
		return nil, err
	}

	return &SystemStatus{
		JobStatistics:  stats,
		ExecutorStatus: o.breakers.Stats(),
		Research:       o.coordinator.Status(),
		ActiveTasks:    o.ActiveTasks(),
		ActiveJobs:     len(active),
		Services: map[string]string{
			"job_manager":      "active",
			"executor":         "active",
			"result_processor": "active",
		},
	}, nil
}

func (o *orchestrator) CleanupOldJobs(ctx context.Context, maxAge time.Duration) (int64, error) {
	return o.manager.CleanupOldJobs(ctx, maxAge)
}
