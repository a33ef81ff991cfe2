package store

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/c00lpeace/project-template-final/pkg/models"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid status transition")

// Repository holds every query. It is satisfied by the Store itself
// (autocommit) and by an open Tx.
type Repository interface {
	CreateProgram(ctx context.Context, p *models.Program) error
	GetProgram(ctx context.Context, programID string) (*models.Program, error)
	ListProgramsByUser(ctx context.Context, userID string) ([]*models.Program, error)
	UpdateProgramStatus(ctx context.Context, programID, status string, opts ...ProgramUpdateOption) error
	UpdateProgramS3Paths(ctx context.Context, programID string, paths map[string]string) error
	UpdateProgramMetadata(ctx context.Context, programID string, meta models.ProgramMetadata) error

	CreateDocument(ctx context.Context, d *models.Document) error

	CreateFailure(ctx context.Context, f *models.ProcessingFailure) error
	GetFailure(ctx context.Context, failureID string) (*models.ProcessingFailure, error)
	ListFailures(ctx context.Context, filter FailureFilter) ([]*models.ProcessingFailure, error)
	IncrementRetryCount(ctx context.Context, failureID string) error
	UpdateFailureStatus(ctx context.Context, failureID, status string, opts ...FailureUpdateOption) error

	CreateJob(ctx context.Context, job *models.ProcessingJob) error
	GetJob(ctx context.Context, jobID string) (*models.ProcessingJob, error)
	UpdateJobStatus(ctx context.Context, jobID, status string, opts ...JobUpdateOption) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	GetPLC(ctx context.Context, id string) (*models.PLC, error)
	GetProgramIDByPLC(ctx context.Context, plcID string) (string, error)
	ListPLCTreeRows(ctx context.Context) ([]models.PLCTreeRow, error)
}

// Store is the data access interface. All database operations go through here.
type Store interface {
	Repository
	Ping(ctx context.Context) error
	// Begin opens a unit of work. Callers must Commit or Rollback it.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is an open unit of work. Writes become visible to other readers only
// after Commit.
type Tx interface {
	Repository
	// Savepoint runs fn in a nested scope. If fn fails only its writes are
	// discarded and the enclosing transaction stays usable.
	Savepoint(ctx context.Context, fn func(Repository) error) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// WithTx runs fn inside a transaction and commits it when fn succeeds.
func WithTx(ctx context.Context, s Store, fn func(Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// FailureFilter narrows ListFailures. Empty fields match everything.
type FailureFilter struct {
	ProgramID    string
	FailureTypes []string
	Status       string
}

// --- Status transitions ---

var programTransitions = map[string][]string{
	models.ProgramStatusValidating: {models.ProgramStatusProcessing, models.ProgramStatusValidationFailed, models.ProgramStatusFailed},
	models.ProgramStatusProcessing: {models.ProgramStatusCompleted, models.ProgramStatusIndexingFailed, models.ProgramStatusFailed},
}

var failureTransitions = map[string][]string{
	models.FailureStatusPending:  {models.FailureStatusRetrying},
	models.FailureStatusRetrying: {models.FailureStatusResolved, models.FailureStatusPending},
}

var jobTransitions = map[string][]string{
	models.JobStatusPending: {models.JobStatusRunning, models.JobStatusCompleted, models.JobStatusFailed},
	models.JobStatusRunning: {models.JobStatusCompleted, models.JobStatusFailed},
}

// CheckProgramTransition returns ErrInvalidTransition if from -> to is not allowed.
func CheckProgramTransition(from, to string) error {
	return checkTransition(programTransitions, "program", from, to)
}

// CheckFailureTransition returns ErrInvalidTransition if from -> to is not allowed.
func CheckFailureTransition(from, to string) error {
	return checkTransition(failureTransitions, "failure", from, to)
}

// CheckJobTransition returns ErrInvalidTransition if from -> to is not allowed.
func CheckJobTransition(from, to string) error {
	return checkTransition(jobTransitions, "job", from, to)
}

func checkTransition(table map[string][]string, kind, from, to string) error {
	if !slices.Contains(table[from], to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, kind, from, to)
	}
	return nil
}

// --- Update options ---

type programUpdateParams struct {
	ErrorMessage  *string
	VectorIndexed *bool
}

type ProgramUpdateOption func(*programUpdateParams)

func WithProgramError(msg string) ProgramUpdateOption {
	return func(p *programUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func WithVectorIndexed(indexed bool) ProgramUpdateOption {
	return func(p *programUpdateParams) {
		p.VectorIndexed = &indexed
	}
}

// ApplyProgramOptions resolves opts for Store implementations.
func ApplyProgramOptions(opts []ProgramUpdateOption) (errMsg *string, vectorIndexed *bool) {
	params := &programUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	return params.ErrorMessage, params.VectorIndexed
}

type failureUpdateParams struct {
	ErrorMessage *string
	ResolvedBy   *string
}

type FailureUpdateOption func(*failureUpdateParams)

func WithFailureError(msg string) FailureUpdateOption {
	return func(p *failureUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func WithResolvedBy(by string) FailureUpdateOption {
	return func(p *failureUpdateParams) {
		p.ResolvedBy = &by
	}
}

// ApplyFailureOptions resolves opts for Store implementations.
func ApplyFailureOptions(opts []FailureUpdateOption) (errMsg, resolvedBy *string) {
	params := &failureUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	return params.ErrorMessage, params.ResolvedBy
}

type jobUpdateParams struct {
	ErrorMessage   *string
	ResultData     map[string]any
	CompletedSteps *int
	CurrentStep    *string
}

type JobUpdateOption func(*jobUpdateParams)

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func WithResultData(data map[string]any) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ResultData = data
	}
}

func WithCompletedSteps(n int) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.CompletedSteps = &n
	}
}

func WithCurrentStep(step string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.CurrentStep = &step
	}
}

// JobUpdate is the resolved form of a JobUpdateOption list.
type JobUpdate struct {
	ErrorMessage   *string
	ResultData     map[string]any
	CompletedSteps *int
	CurrentStep    *string
}

// ApplyJobOptions resolves opts for Store implementations.
func ApplyJobOptions(opts []JobUpdateOption) JobUpdate {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	return JobUpdate(*params)
}
