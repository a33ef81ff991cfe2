package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/c00lpeace/project-template-final/pkg/models"
	"github.com/jackc/pgx/v5"
)

// --- Processing Failures ---

const failureColumns = `failure_id, program_id, failure_type, error_message, error_details, file_path, file_index,
	filename, s3_path, s3_key, retry_count, max_retry_count, status, resolved_by, resolved_at, last_retry_at,
	created_at, updated_at`

func scanFailure(row pgx.Row) (*models.ProcessingFailure, error) {
	var f models.ProcessingFailure
	var details []byte
	if err := row.Scan(&f.FailureID, &f.ProgramID, &f.FailureType, &f.ErrorMessage, &details, &f.FilePath, &f.FileIndex,
		&f.Filename, &f.S3Path, &f.S3Key, &f.RetryCount, &f.MaxRetryCount, &f.Status, &f.ResolvedBy, &f.ResolvedAt,
		&f.LastRetryAt, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	if err := decodeJSON(details, &f.ErrorDetails); err != nil {
		return nil, fmt.Errorf("decode error_details: %w", err)
	}
	return &f, nil
}

func (q *queries) CreateFailure(ctx context.Context, f *models.ProcessingFailure) error {
	details, err := encodeJSON(f.ErrorDetails)
	if err != nil {
		return err
	}
	if f.MaxRetryCount == 0 {
		f.MaxRetryCount = models.DefaultMaxRetry
	}
	if f.Status == "" {
		f.Status = models.FailureStatusPending
	}
	_, err = q.db.Exec(ctx,
		`INSERT INTO processing_failures (failure_id, program_id, failure_type, error_message, error_details,
		   file_path, file_index, filename, s3_path, s3_key, retry_count, max_retry_count, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		f.FailureID, f.ProgramID, f.FailureType, f.ErrorMessage, details,
		f.FilePath, f.FileIndex, f.Filename, f.S3Path, f.S3Key, f.RetryCount, f.MaxRetryCount, f.Status,
		f.CreatedAt, f.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create processing failure: %w", err)
	}
	return nil
}

func (q *queries) GetFailure(ctx context.Context, failureID string) (*models.ProcessingFailure, error) {
	f, err := scanFailure(q.db.QueryRow(ctx,
		`SELECT `+failureColumns+` FROM processing_failures WHERE failure_id = $1`, failureID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get processing failure: %w", err)
	}
	return f, nil
}

func (q *queries) ListFailures(ctx context.Context, filter FailureFilter) ([]*models.ProcessingFailure, error) {
	conditions := []string{"TRUE"}
	var args []any
	argIdx := 1

	if filter.ProgramID != "" {
		conditions = append(conditions, fmt.Sprintf("program_id = $%d", argIdx))
		args = append(args, filter.ProgramID)
		argIdx++
	}
	if len(filter.FailureTypes) > 0 {
		conditions = append(conditions, fmt.Sprintf("failure_type = ANY($%d)", argIdx))
		args = append(args, filter.FailureTypes)
		argIdx++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}

	rows, err := q.db.Query(ctx,
		`SELECT `+failureColumns+` FROM processing_failures WHERE `+strings.Join(conditions, " AND ")+
			` ORDER BY created_at, file_index NULLS LAST, failure_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list processing failures: %w", err)
	}
	defer rows.Close()

	failures := []*models.ProcessingFailure{}
	for rows.Next() {
		f, err := scanFailure(rows)
		if err != nil {
			return nil, fmt.Errorf("scan processing failure: %w", err)
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

func (q *queries) IncrementRetryCount(ctx context.Context, failureID string) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE processing_failures
		 SET retry_count = retry_count + 1, last_retry_at = NOW(), updated_at = NOW()
		 WHERE failure_id = $1`, failureID)
	if err != nil {
		return fmt.Errorf("increment retry count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *queries) UpdateFailureStatus(ctx context.Context, failureID, status string, opts ...FailureUpdateOption) error {
	errMsg, resolvedBy := ApplyFailureOptions(opts)

	var current string
	err := q.db.QueryRow(ctx,
		`SELECT status FROM processing_failures WHERE failure_id = $1 FOR UPDATE`, failureID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get failure status: %w", err)
	}
	if err := CheckFailureTransition(current, status); err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `UPDATE processing_failures SET status = $2, updated_at = $3`
	args := []any{failureID, status, now}
	argIdx := 4

	if status == models.FailureStatusResolved {
		query += fmt.Sprintf(", resolved_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if resolvedBy != nil {
		query += fmt.Sprintf(", resolved_by = $%d", argIdx)
		args = append(args, *resolvedBy)
		argIdx++
	}
	if errMsg != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *errMsg)
		argIdx++
	}
	query += " WHERE failure_id = $1"

	if _, err := q.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update failure status: %w", err)
	}
	return nil
}

// --- Processing Jobs ---

func (q *queries) CreateJob(ctx context.Context, job *models.ProcessingJob) error {
	var result []byte
	if job.ResultData != nil {
		data, err := encodeJSON(job.ResultData)
		if err != nil {
			return err
		}
		result = data
	}
	_, err := q.db.Exec(ctx,
		`INSERT INTO processing_jobs (job_id, doc_id, job_type, status, total_steps, completed_steps, current_step,
		   result_data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.JobID, job.DocID, job.JobType, job.Status, job.TotalSteps, job.CompletedSteps, job.CurrentStep,
		result, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (q *queries) GetJob(ctx context.Context, jobID string) (*models.ProcessingJob, error) {
	var j models.ProcessingJob
	var result []byte
	err := q.db.QueryRow(ctx,
		`SELECT job_id, doc_id, job_type, status, total_steps, completed_steps, current_step, result_data,
		   error_message, started_at, completed_at, created_at, updated_at
		 FROM processing_jobs WHERE job_id = $1`, jobID,
	).Scan(&j.JobID, &j.DocID, &j.JobType, &j.Status, &j.TotalSteps, &j.CompletedSteps, &j.CurrentStep, &result,
		&j.ErrorMessage, &j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if err := decodeJSON(result, &j.ResultData); err != nil {
		return nil, fmt.Errorf("decode result_data: %w", err)
	}
	return &j, nil
}

func (q *queries) UpdateJobStatus(ctx context.Context, jobID, status string, opts ...JobUpdateOption) error {
	params := ApplyJobOptions(opts)

	// Fetch current status
	var currentStatus string
	err := q.db.QueryRow(ctx,
		`SELECT status FROM processing_jobs WHERE job_id = $1 FOR UPDATE`, jobID).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	if err := CheckJobTransition(currentStatus, status); err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `UPDATE processing_jobs SET status = $2, updated_at = $3`
	args := []any{jobID, status, now}
	argIdx := 4

	if status == models.JobStatusRunning {
		query += fmt.Sprintf(", started_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if status == models.JobStatusCompleted || status == models.JobStatusFailed {
		query += fmt.Sprintf(", completed_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.ResultData != nil {
		data, err := encodeJSON(params.ResultData)
		if err != nil {
			return err
		}
		query += fmt.Sprintf(", result_data = $%d", argIdx)
		args = append(args, data)
		argIdx++
	}
	if params.CompletedSteps != nil {
		query += fmt.Sprintf(", completed_steps = $%d", argIdx)
		args = append(args, *params.CompletedSteps)
		argIdx++
	}
	if params.CurrentStep != nil {
		query += fmt.Sprintf(", current_step = $%d", argIdx)
		args = append(args, *params.CurrentStep)
		argIdx++
	}

	query += " WHERE job_id = $1"

	_, err = q.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}
