package model

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// ResearchJob is the aggregate root of the pipeline. Items are fixed at
// creation; results are index-aligned with items once execution completes.
// A job is mutated only by the orchestration layer during execution and
// becomes immutable once its status is terminal.
type ResearchJob struct {
	ID          uuid.UUID        `json:"id"`
	Items       []ResearchItem   `json:"items"`
	Results     []ResearchResult `json:"results"`
	Status      JobStatus        `json:"status"`
	Priority    int              `json:"priority"`
	CallbackURL *string          `json:"callback_url,omitempty"`

	TotalItems       int    `json:"total_items"`
	SuccessfulItems  int    `json:"successful_items"`
	FailedItems      int    `json:"failed_items"`
	ProcessingTimeMS *int64 `json:"processing_time_ms,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Metadata JobMetadata `json:"metadata,omitempty"`
}

// NewResearchJob constructs a pending job over the given items.
func NewResearchJob(items []ResearchItem, priority int, callbackURL *string) *ResearchJob {
	now := time.Now().UTC()
	return &ResearchJob{
		ID:          uuid.New(),
		Items:       items,
		Results:     []ResearchResult{},
		Status:      JobStatusPending,
		Priority:    priority,
		CallbackURL: callbackURL,
		TotalItems:  len(items),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Start moves the job into processing and stamps the start time.
func (j *ResearchJob) Start() {
	now := time.Now().UTC()
	j.Status = JobStatusProcessing
	j.StartedAt = &now
	j.UpdatedAt = now
}

// AddResult appends a result and updates the success/failure counters.
// Preview and pending results count toward neither.
func (j *ResearchJob) AddResult(r ResearchResult) {
	j.Results = append(j.Results, r)
	switch r.Status {
	case ResultStatusSuccess:
		j.SuccessfulItems++
	case ResultStatusError, ResultStatusInsufficientSources:
		j.FailedItems++
	}
	j.UpdatedAt = time.Now().UTC()
}

// RecountResults recomputes the counters from the current result list.
// Used after a positional merge rewrites results in place.
func (j *ResearchJob) RecountResults() {
	j.SuccessfulItems = 0
	j.FailedItems = 0
	for _, r := range j.Results {
		switch r.Status {
		case ResultStatusSuccess:
			j.SuccessfulItems++
		case ResultStatusError, ResultStatusInsufficientSources:
			j.FailedItems++
		}
	}
	j.UpdatedAt = time.Now().UTC()
}

// Complete marks the job completed and computes the elapsed processing time.
func (j *ResearchJob) Complete() {
	now := time.Now().UTC()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.UpdatedAt = now
	if j.StartedAt != nil {
		ms := now.Sub(*j.StartedAt).Milliseconds()
		j.ProcessingTimeMS = &ms
	}
}

// Fail marks the job failed and records a human-readable cause in metadata.
func (j *ResearchJob) Fail(msg string) {
	now := time.Now().UTC()
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.Metadata.Error = &msg
}

// Cancel transitions the job to cancelled. Only legal from a non-terminal
// state; callers must check Terminal() first.
func (j *ResearchJob) Cancel() {
	now := time.Now().UTC()
	j.Status = JobStatusCancelled
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.Metadata.Cancelled = true
	j.Metadata.CancelledAt = &now
}

// SuccessRate returns successful/total, or 0 for an empty job.
func (j *ResearchJob) SuccessRate() float64 {
	if j.TotalItems == 0 {
		return 0
	}
	return float64(j.SuccessfulItems) / float64(j.TotalItems)
}

// Progress returns processed/total in [0,1].
func (j *ResearchJob) Progress() float64 {
	if j.TotalItems == 0 {
		return 0
	}
	return float64(j.SuccessfulItems+j.FailedItems) / float64(j.TotalItems)
}
