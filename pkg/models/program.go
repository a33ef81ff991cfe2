// Package models contains shared data models used across the ingestion service.
package models

import "time"

const (
	ProgramStatusValidating       = "validating"
	ProgramStatusProcessing       = "processing"
	ProgramStatusCompleted        = "completed"
	ProgramStatusIndexingFailed   = "indexing_failed"
	ProgramStatusFailed           = "failed"
	ProgramStatusValidationFailed = "validation_failed"
)

// Artifact names used as keys of Program.S3Paths.
const (
	ArtifactLadderZip      = "ladder_zip_path"
	ArtifactUnzippedBase   = "unzipped_base_path"
	ArtifactClassification = "classification_xlsx_path"
	ArtifactDeviceComment  = "device_comment_csv_path"
)

// Program is one user-submitted ingestion unit (ladder archive, classification
// sheet and device comment table) and its lifecycle state.
type Program struct {
	ProgramID            string            `db:"program_id"             json:"program_id"`
	ProgramTitle         string            `db:"program_title"          json:"program_title"`
	ProgramDescription   *string           `db:"program_description"    json:"program_description"`
	UserID               string            `db:"user_id"                json:"user_id"`
	Status               string            `db:"status"                 json:"status"`
	S3Paths              map[string]string `db:"s3_paths"               json:"s3_paths"`
	VectorIndexed        bool              `db:"vector_indexed"         json:"vector_indexed"`
	VectorCollectionName *string           `db:"vector_collection_name" json:"vector_collection_name"`
	Metadata             ProgramMetadata   `db:"metadata_json"          json:"metadata_json"`
	ErrorMessage         *string           `db:"error_message"          json:"error_message"`
	CreatedAt            time.Time         `db:"created_at"             json:"created_at"`
	UpdatedAt            time.Time         `db:"updated_at"             json:"updated_at"`
	ProcessedAt          *time.Time        `db:"processed_at"           json:"processed_at"`
}

// IsTerminal reports whether no further pipeline step will change the status.
func (p *Program) IsTerminal() bool {
	switch p.Status {
	case ProgramStatusCompleted, ProgramStatusIndexingFailed, ProgramStatusFailed, ProgramStatusValidationFailed:
		return true
	}
	return false
}

// ProgramMetadata is the typed form of programs.metadata_json. Every field is
// optional so rows written by older pipeline versions still decode.
type ProgramMetadata struct {
	TotalExpected            *int               `json:"total_expected,omitempty"`
	TotalSuccessfulDocuments *int               `json:"total_successful_documents,omitempty"`
	HasPartialFailure        *bool              `json:"has_partial_failure,omitempty"`
	PreprocessingSummary     *BatchSummary      `json:"preprocessing_summary,omitempty"`
	DocumentStorageSummary   *BatchSummary      `json:"document_storage_summary,omitempty"`
	RetryHistory             []RetryHistoryItem `json:"retry_history,omitempty"`
}

// BatchSummary counts the outcome of one per-item loop.
type BatchSummary struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// RetryCounters aggregates the outcome of a retry run for one failure kind.
type RetryCounters struct {
	Retried int `json:"retried"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// RetryResults is the per-kind outcome of RetryFailedFiles.
type RetryResults struct {
	Preprocessing RetryCounters `json:"preprocessing"`
	Document      RetryCounters `json:"document"`
}

// Retried returns the number of failures touched in the run.
func (r RetryResults) Retried() int {
	return r.Preprocessing.Retried + r.Document.Retried
}

// RetryHistoryItem is appended to ProgramMetadata.RetryHistory after each
// retry run that touched at least one failure.
type RetryHistoryItem struct {
	RetryType string       `json:"retry_type"`
	Timestamp time.Time    `json:"timestamp"`
	Results   RetryResults `json:"results"`
}

// ProgramFile is one uploaded artifact held in memory for validation and upload.
type ProgramFile struct {
	Filename string
	Content  []byte
}

// Size returns the artifact size in bytes.
func (f ProgramFile) Size() int64 {
	return int64(len(f.Content))
}

// ProgramFiles groups the three artifacts of a registration.
type ProgramFiles struct {
	LadderZip          ProgramFile
	ClassificationXLSX ProgramFile
	DeviceCommentCSV   ProgramFile
}
