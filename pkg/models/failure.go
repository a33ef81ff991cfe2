package models

import "time"

const (
	FailureTypePreprocessing   = "preprocessing"
	FailureTypeDocumentStorage = "document_storage"
	FailureTypeVectorIndexing  = "vector_indexing"
)

const (
	FailureStatusPending  = "pending"
	FailureStatusRetrying = "retrying"
	FailureStatusResolved = "resolved"
)

const (
	ResolvedByManual = "manual"
	DefaultMaxRetry  = 3
)

// ProcessingFailure is a durable record of one failed per-item operation.
// RetryCount only changes through the store's increment operation.
type ProcessingFailure struct {
	FailureID     string         `db:"failure_id"      json:"failure_id"`
	ProgramID     string         `db:"program_id"      json:"program_id"`
	FailureType   string         `db:"failure_type"    json:"failure_type"`
	ErrorMessage  string         `db:"error_message"   json:"error_message"`
	ErrorDetails  map[string]any `db:"error_details"   json:"error_details"`
	FilePath      *string        `db:"file_path"       json:"file_path"`
	FileIndex     *int           `db:"file_index"      json:"file_index"`
	Filename      *string        `db:"filename"        json:"filename"`
	S3Path        *string        `db:"s3_path"         json:"s3_path"`
	S3Key         *string        `db:"s3_key"          json:"s3_key"`
	RetryCount    int            `db:"retry_count"     json:"retry_count"`
	MaxRetryCount int            `db:"max_retry_count" json:"max_retry_count"`
	Status        string         `db:"status"          json:"status"`
	ResolvedBy    *string        `db:"resolved_by"     json:"resolved_by"`
	ResolvedAt    *time.Time     `db:"resolved_at"     json:"resolved_at"`
	LastRetryAt   *time.Time     `db:"last_retry_at"   json:"last_retry_at"`
	CreatedAt     time.Time      `db:"created_at"      json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"      json:"updated_at"`
}

// DetailString returns error_details[key] when it holds a string.
func (f *ProcessingFailure) DetailString(key string) string {
	if f.ErrorDetails == nil {
		return ""
	}
	s, _ := f.ErrorDetails[key].(string)
	return s
}
