package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"shopscout.app/research/core/db"
	"shopscout.app/research/internal/model"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var jobColumns = []string{
	"id", "status", "priority", "callback_url",
	"items", "results",
	"total_items", "successful_items", "failed_items", "processing_time_ms",
	"metadata",
	"created_at", "updated_at", "started_at", "completed_at",
}

type jobStore struct {
	q db.Querier
}

func newJobStore(q db.Querier) JobStore {
	return &jobStore{q: q}
}

func (s *jobStore) Create(ctx context.Context, job *model.ResearchJob) error {
	itemsJSON, err := json.Marshal(job.Items)
	if err != nil {
		return fmt.Errorf("marshaling items: %w", err)
	}
	resultsJSON, err := json.Marshal(job.Results)
	if err != nil {
		return fmt.Errorf("marshaling results: %w", err)
	}
	metadataJSON, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	query, args, err := psql.Insert("research_jobs").
		Columns(jobColumns...).
		Values(
			job.ID, string(job.Status), job.Priority, job.CallbackURL,
			itemsJSON, resultsJSON,
			job.TotalItems, job.SuccessfulItems, job.FailedItems, job.ProcessingTimeMS,
			metadataJSON,
			job.CreatedAt, job.UpdatedAt, job.StartedAt, job.CompletedAt,
		).
		ToSql()
	if err != nil {
		return err
	}

	_, err = s.q.Exec(ctx, query, args...)
	return err
}

func (s *jobStore) GetByID(ctx context.Context, id uuid.UUID) (*model.ResearchJob, error) {
	query, args, err := psql.Select(jobColumns...).
		From("research_jobs").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, err
	}

	job, err := scanJob(s.q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func (s *jobStore) Update(ctx context.Context, job *model.ResearchJob) (bool, error) {
	resultsJSON, err := json.Marshal(job.Results)
	if err != nil {
		return false, fmt.Errorf("marshaling results: %w", err)
	}
	metadataJSON, err := json.Marshal(job.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshaling metadata: %w", err)
	}

	query, args, err := psql.Update("research_jobs").
		Set("status", string(job.Status)).
		Set("results", resultsJSON).
		Set("successful_items", job.SuccessfulItems).
		Set("failed_items", job.FailedItems).
		Set("processing_time_ms", job.ProcessingTimeMS).
		Set("metadata", metadataJSON).
		Set("updated_at", job.UpdatedAt).
		Set("started_at", job.StartedAt).
		Set("completed_at", job.CompletedAt).
		Where(sq.Eq{
			"id":     job.ID,
			"status": []string{string(model.JobStatusPending), string(model.JobStatusProcessing)},
		}).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return false, err
	}

	var updated uuid.UUID
	if err := s.q.QueryRow(ctx, query, args...).Scan(&updated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Row went terminal (or was deleted) since we read it; the
			// caller's copy is stale and must not overwrite it.
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *jobStore) UpdateStatus(ctx context.Context, id uuid.UUID, status model.JobStatus, fields UpdateFields) (bool, error) {
	builder := psql.Update("research_jobs").
		Set("status", string(status)).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id})

	if fields.StartedAt != nil {
		builder = builder.Set("started_at", *fields.StartedAt)
	}
	if fields.CompletedAt != nil {
		builder = builder.Set("completed_at", *fields.CompletedAt)
	}
	if fields.ProcessingTimeMS != nil {
		builder = builder.Set("processing_time_ms", *fields.ProcessingTimeMS)
	}
	if fields.Metadata != nil {
		metadataJSON, err := json.Marshal(fields.Metadata)
		if err != nil {
			return false, fmt.Errorf("marshaling metadata: %w", err)
		}
		builder = builder.Set("metadata", metadataJSON)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return false, err
	}

	tag, err := s.q.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *jobStore) ClaimPending(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query, args, err := psql.Update("research_jobs").
		Set("status", string(model.JobStatusProcessing)).
		Set("started_at", at).
		Set("updated_at", at).
		Where(sq.Eq{"id": id, "status": string(model.JobStatusPending)}).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return false, err
	}

	var claimed uuid.UUID
	if err := s.q.QueryRow(ctx, query, args...).Scan(&claimed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Job was not pending (already claimed, finished, or cancelled)
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *jobStore) ResetForRetry(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query, args, err := psql.Update("research_jobs").
		Set("status", string(model.JobStatusPending)).
		Set("metadata", sq.Expr("metadata - 'error'")).
		Set("completed_at", nil).
		Set("processing_time_ms", nil).
		Set("updated_at", at).
		Where(sq.Eq{"id": id, "status": []string{
			string(model.JobStatusPending),
			string(model.JobStatusProcessing),
			string(model.JobStatusFailed),
		}}).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return false, err
	}

	var reset uuid.UUID
	if err := s.q.QueryRow(ctx, query, args...).Scan(&reset); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Cancelled, completed, or gone
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *jobStore) CancelIfActive(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	patch, err := json.Marshal(model.JobMetadata{Cancelled: true, CancelledAt: &at})
	if err != nil {
		return false, fmt.Errorf("marshaling metadata: %w", err)
	}

	query, args, err := psql.Update("research_jobs").
		Set("status", string(model.JobStatusCancelled)).
		Set("metadata", sq.Expr("metadata || ?::jsonb", patch)).
		Set("completed_at", at).
		Set("updated_at", at).
		Where(sq.Eq{
			"id":     id,
			"status": []string{string(model.JobStatusPending), string(model.JobStatusProcessing)},
		}).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return false, err
	}

	var cancelled uuid.UUID
	if err := s.q.QueryRow(ctx, query, args...).Scan(&cancelled); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Job was missing or already terminal
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *jobStore) ListPending(ctx context.Context, limit int32) ([]model.ResearchJob, error) {
	query, args, err := psql.Select(jobColumns...).
		From("research_jobs").
		Where(sq.Eq{"status": string(model.JobStatusPending)}).
		OrderBy("created_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}
	return s.queryJobs(ctx, query, args...)
}

func (s *jobStore) ListActive(ctx context.Context) ([]model.ResearchJob, error) {
	query, args, err := psql.Select(jobColumns...).
		From("research_jobs").
		Where(sq.Eq{"status": string(model.JobStatusProcessing)}).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	return s.queryJobs(ctx, query, args...)
}

func (s *jobStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := psql.Delete("research_jobs").
		Where(sq.Eq{"status": []string{
			string(model.JobStatusCompleted),
			string(model.JobStatusFailed),
			string(model.JobStatusCancelled),
		}}).
		Where(sq.Lt{"completed_at": cutoff}).
		ToSql()
	if err != nil {
		return 0, err
	}

	tag, err := s.q.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *jobStore) Statistics(ctx context.Context) (*JobStatistics, error) {
	query, args, err := psql.Select("status", "count(*)").
		From("research_jobs").
		GroupBy("status").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &JobStatistics{}
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.Total += count
		switch model.JobStatus(status) {
		case model.JobStatusPending:
			stats.Pending = count
		case model.JobStatusProcessing:
			stats.Processing = count
		case model.JobStatusCompleted:
			stats.Completed = count
		case model.JobStatusFailed:
			stats.Failed = count
		case model.JobStatusCancelled:
			stats.Cancelled = count
		}
	}
	return stats, rows.Err()
}

func (s *jobStore) queryJobs(ctx context.Context, query string, args ...any) ([]model.ResearchJob, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []model.ResearchJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*model.ResearchJob, error) {
	var (
		job          model.ResearchJob
		status       string
		itemsJSON    []byte
		resultsJSON  []byte
		metadataJSON []byte
	)
	err := row.Scan(
		&job.ID, &status, &job.Priority, &job.CallbackURL,
		&itemsJSON, &resultsJSON,
		&job.TotalItems, &job.SuccessfulItems, &job.FailedItems, &job.ProcessingTimeMS,
		&metadataJSON,
		&job.CreatedAt, &job.UpdatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = model.JobStatus(status)
	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &job.Items); err != nil {
			return nil, fmt.Errorf("unmarshaling items: %w", err)
		}
	}
	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &job.Results); err != nil {
			return nil, fmt.Errorf("unmarshaling results: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &job.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}
	return &job, nil
}
