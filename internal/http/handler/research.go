package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"shopscout.app/research/internal/http/dto"
	"shopscout.app/research/internal/model"
	"shopscout.app/research/internal/service"
)

type ResearchHandler struct {
	orchestrator service.ResearchOrchestrator
	jobs         service.JobManager
	maxBatchSize int
}

func NewResearchHandler(orchestrator service.ResearchOrchestrator, jobs service.JobManager, maxBatchSize int) *ResearchHandler {
	return &ResearchHandler{
		orchestrator: orchestrator,
		jobs:         jobs,
		maxBatchSize: maxBatchSize,
	}
}

// Create starts a research job over a batch of products. Execution is always
// asynchronous: in-process by default, on a queue worker with ?use_queue=true.
// ?return_coupang_preview=true seeds the response with partner preview
// results before the research call begins.
func (h *ResearchHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.ProductResearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid research request body", "error", err)
		c.JSON(http.StatusBadRequest, dto.NewError(dto.CodeValidationError, err.Error()))
		return
	}
	if h.maxBatchSize > 0 && len(req.Items) > h.maxBatchSize {
		resp := dto.NewError(dto.CodeBatchSizeExceeded,
			fmt.Sprintf("received %d items, maximum allowed is %d", len(req.Items), h.maxBatchSize))
		resp.Metadata = map[string]any{"received_count": len(req.Items), "max_allowed": h.maxBatchSize}
		c.JSON(http.StatusBadRequest, resp)
		return
	}

	items := dto.ToResearchItems(req.Items)
	useQueue, _ := strconv.ParseBool(c.DefaultQuery("use_queue", "false"))
	withPreview, _ := strconv.ParseBool(c.DefaultQuery("return_coupang_preview", "false"))

	if useQueue {
		job, err := h.orchestrator.EnqueueResearchJob(ctx, items, req.Priority, req.CallbackURL, withPreview)
		if err != nil {
			h.createError(c, err)
			return
		}
		c.JSON(http.StatusCreated, dto.ToProductResearchResponse(job, withPreview))
		return
	}

	var (
		job *model.ResearchJob
		err error
	)
	if withPreview {
		job, _, err = h.orchestrator.CreateResearchJobWithPreview(ctx, items, req.Priority, req.CallbackURL)
		if err != nil && !errors.Is(err, service.ErrInvalidRequest) {
			// Partner previews are best effort: fall back to a regular job.
			slog.WarnContext(ctx, "partner preview failed, falling back to regular job", "error", err)
			job, _, err = h.orchestrator.CreateResearchJob(ctx, items, req.Priority, req.CallbackURL)
		}
	} else {
		job, _, err = h.orchestrator.CreateResearchJob(ctx, items, req.Priority, req.CallbackURL)
	}
	if err != nil {
		h.createError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.ToProductResearchResponse(job, withPreview))
}

func (h *ResearchHandler) createError(c *gin.Context, err error) {
	ctx := c.Request.Context()
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		slog.WarnContext(ctx, "research request rejected", "error", err)
		c.JSON(http.StatusBadRequest, dto.NewError(dto.CodeInvalidRequest, err.Error()))
	case errors.Is(err, service.ErrQueueNotConfigured):
		c.JSON(http.StatusServiceUnavailable, dto.NewError(dto.CodeServiceUnavailable, err.Error()))
	default:
		slog.ErrorContext(ctx, "failed to create research job", "error", err)
		c.JSON(http.StatusInternalServerError, dto.NewError(dto.CodeInternalServerError, "failed to create research job"))
	}
}

// GetResults returns a job with its results. ?include_failed=false narrows
// the results to successful ones; the counters keep covering the full batch.
func (h *ResearchHandler) GetResults(c *gin.Context) {
	ctx := c.Request.Context()

	jobID, ok := h.jobID(c)
	if !ok {
		return
	}
	includeFailed, err := strconv.ParseBool(c.DefaultQuery("include_failed", "true"))
	if err != nil {
		includeFailed = true
	}

	job, err := h.jobs.GetJobWithFilteredResults(ctx, jobID, includeFailed)
	if err != nil {
		h.jobError(c, jobID, err, "failed to fetch research job")
		return
	}

	c.JSON(http.StatusOK, dto.ToProductResearchResponse(job, false))
}

// GetStatus returns the lightweight progress view of a job.
func (h *ResearchHandler) GetStatus(c *gin.Context) {
	ctx := c.Request.Context()

	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	job, err := h.jobs.GetJob(ctx, jobID)
	if err != nil {
		h.jobError(c, jobID, err, "failed to fetch job status")
		return
	}

	c.JSON(http.StatusOK, dto.ToJobStatusResponse(job))
}

// Cancel cancels a pending or processing job. An execution already in flight
// keeps running; its late result is discarded at the final write.
func (h *ResearchHandler) Cancel(c *gin.Context) {
	ctx := c.Request.Context()

	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	cancelled, err := h.jobs.CancelJob(ctx, jobID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to cancel research job", "error", err, "job_id", jobID)
		c.JSON(http.StatusInternalServerError, dto.NewError(dto.CodeInternalServerError, "failed to cancel research job"))
		return
	}
	if cancelled {
		c.Status(http.StatusNoContent)
		return
	}

	// Not cancellable: distinguish a missing job from a terminal one.
	job, err := h.jobs.GetJob(ctx, jobID)
	if err != nil {
		h.jobError(c, jobID, err, "failed to cancel research job")
		return
	}

	resp := dto.NewError(dto.CodeJobCannotBeCancelled,
		fmt.Sprintf("job %s is in status %s and cannot be cancelled", jobID, job.Status))
	resp.Metadata = map[string]any{"current_status": string(job.Status)}
	c.JSON(http.StatusBadRequest, resp)
}

// jobID parses the job_id path parameter, answering the request itself when
// the value is not a UUID.
func (h *ResearchHandler) jobID(c *gin.Context) (uuid.UUID, bool) {
	raw := c.Param("job_id")
	jobID, err := uuid.Parse(raw)
	if err != nil {
		resp := dto.NewError(dto.CodeInvalidUUIDFormat, fmt.Sprintf("invalid UUID format: %s", raw))
		resp.Metadata = map[string]any{"provided_id": raw}
		c.JSON(http.StatusBadRequest, resp)
		return uuid.Nil, false
	}
	return jobID, true
}

func (h *ResearchHandler) jobError(c *gin.Context, jobID uuid.UUID, err error, msg string) {
	ctx := c.Request.Context()
	if errors.Is(err, service.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, dto.NewError(dto.CodeJobNotFound, fmt.Sprintf("job %s not found", jobID)))
		return
	}
	slog.ErrorContext(ctx, msg, "error", err, "job_id", jobID)
	c.JSON(http.StatusInternalServerError, dto.NewError(dto.CodeInternalServerError, msg))
}
