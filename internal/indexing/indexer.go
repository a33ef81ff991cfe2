// Package indexing requests vector indexing of a program's processed
// artifacts from the external indexing service.
package indexing

import (
	"context"
	"errors"
)

// Sentinel errors for indexer transport failures.
var (
	ErrIndexerUnreachable = errors.New("indexer unreachable")
	ErrIndexerTimeout     = errors.New("indexer request timeout")
)

// Request names the program and the artifact locations to index.
type Request struct {
	ProgramID string            `json:"program_id"`
	S3Paths   map[string]string `json:"s3_paths"`
}

// Indexer submits one indexing request. It returns false when the service
// answers but refuses the request, and an error when the call itself fails.
type Indexer interface {
	Index(ctx context.Context, req Request) (bool, error)
}
