package models

import (
	"fmt"
	"time"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

const JobTypeVectorIndexing = "vector_indexing"

// ProcessingJob tracks one attempt at an external indexing operation.
// A job is terminal once it reaches completed or failed.
type ProcessingJob struct {
	JobID          string         `db:"job_id"          json:"job_id"`
	DocID          string         `db:"doc_id"          json:"doc_id"`
	JobType        string         `db:"job_type"        json:"job_type"`
	Status         string         `db:"status"          json:"status"`
	TotalSteps     int            `db:"total_steps"     json:"total_steps"`
	CompletedSteps int            `db:"completed_steps" json:"completed_steps"`
	CurrentStep    *string        `db:"current_step"    json:"current_step,omitempty"`
	ResultData     map[string]any `db:"result_data"     json:"result_data,omitempty"`
	ErrorMessage   *string        `db:"error_message"   json:"error_message,omitempty"`
	StartedAt      *time.Time     `db:"started_at"      json:"started_at,omitempty"`
	CompletedAt    *time.Time     `db:"completed_at"    json:"completed_at,omitempty"`
	CreatedAt      time.Time      `db:"created_at"      json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"      json:"updated_at"`
}

// IndexingJobID builds vector_indexing_{program_id}_{YYYYMMDD_HHMMSS}.
func IndexingJobID(programID string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s", JobTypeVectorIndexing, programID, at.Format("20060102_150405"))
}
