package models

import "time"

const (
	DocumentStatusProcessing = "processing"
	DocumentTypeCommon       = "common"
	DocumentFileTypeJSON     = "application/json"
	DocumentExtensionJSON    = "json"
	ProcessingStagePreproc   = "preprocessed"
)

// Document is one derived JSON artifact produced from a single source file.
// It points back to its program through Metadata.ProgramID.
type Document struct {
	DocumentID       string           `db:"document_id"       json:"document_id"`
	DocumentName     string           `db:"document_name"     json:"document_name"`
	OriginalFilename string           `db:"original_filename" json:"original_filename"`
	FileKey          string           `db:"file_key"          json:"file_key"`
	UploadPath       string           `db:"upload_path"       json:"upload_path"`
	FileSize         int64            `db:"file_size"         json:"file_size"`
	FileType         string           `db:"file_type"         json:"file_type"`
	FileExtension    string           `db:"file_extension"    json:"file_extension"`
	UserID           string           `db:"user_id"           json:"user_id"`
	Status           string           `db:"status"            json:"status"`
	DocumentType     string           `db:"document_type"     json:"document_type"`
	Metadata         DocumentMetadata `db:"metadata_json"     json:"metadata_json"`
	CreatedAt        time.Time        `db:"created_at"        json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at"        json:"updated_at"`
}

// DocumentMetadata is the typed form of documents.metadata_json.
type DocumentMetadata struct {
	ProgramID       string `json:"program_id"`
	ProgramTitle    string `json:"program_title"`
	SourceFile      string `json:"source_file,omitempty"`
	ProcessingStage string `json:"processing_stage"`
	JSONFilename    string `json:"json_filename,omitempty"`
	RetryCount      int    `json:"retry_count,omitempty"`
	IsRetry         bool   `json:"is_retry,omitempty"`
	FailureID       string `json:"failure_id,omitempty"`
}
