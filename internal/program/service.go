// Package program runs program registration, the background ingestion
// pipeline and failure retry.
package program

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/c00lpeace/project-template-final/internal/cache"
	"github.com/c00lpeace/project-template-final/internal/config"
	"github.com/c00lpeace/project-template-final/internal/events"
	"github.com/c00lpeace/project-template-final/internal/metrics"
	"github.com/c00lpeace/project-template-final/internal/store"
	"github.com/c00lpeace/project-template-final/internal/validator"
	"github.com/c00lpeace/project-template-final/pkg/apperr"
	"github.com/c00lpeace/project-template-final/pkg/models"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

const (
	defaultChunkSize = 50
	eventTimeout     = 5 * time.Second
)

// ErrIndexing marks a pipeline that ended because the indexing call failed.
// The program is already indexing_failed when it is returned.
var ErrIndexing = errors.New("vector indexing failed")

// FileValidator checks the uploaded artifacts of a registration.
type FileValidator interface {
	ValidateFiles(files models.ProgramFiles) validator.Result
}

// RegisterRequest is one program submission.
type RegisterRequest struct {
	Title       string
	Description string
	UserID      string
	Files       models.ProgramFiles
}

// RegisterResult is returned for both accepted and rejected submissions.
type RegisterResult struct {
	ProgramID    string           `json:"program_id"`
	ProgramTitle string           `json:"program_title"`
	Status       string           `json:"status"`
	Message      string           `json:"message"`
	Validation   validator.Result `json:"validation_result"`
}

// Accepted reports whether a program row was created.
func (r *RegisterResult) Accepted() bool {
	return r.Status != models.ProgramStatusValidationFailed
}

// StatusInfo is the answer of GetProgramStatus.
type StatusInfo struct {
	ProgramID string `json:"program_id"`
	Status    string `json:"status"`
	Cached    bool   `json:"cached"`
}

// FailureList is the answer of ListFailures.
type FailureList struct {
	ProgramID string                      `json:"program_id"`
	Failures  []*models.ProcessingFailure `json:"failures"`
	Count     int                         `json:"count"`
}

// Service orchestrates program ingestion.
type Service struct {
	store     store.Store
	cache     cache.Cache
	validator FileValidator
	uploader  *Uploader
	events    events.Publisher
	metrics   *metrics.Metrics
	cfg       config.PipelineConfig

	sem   *semaphore.Weighted
	wg    sync.WaitGroup
	now   func() time.Time
	newID func() string

	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithEvents sets the lifecycle event publisher.
func WithEvents(p events.Publisher) Option {
	return func(s *Service) {
		s.events = p
	}
}

// WithMetrics sets the collectors the pipeline reports to.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithIDGenerator overrides the program id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		s.newID = fn
	}
}

// NewService creates a Service.
func NewService(st store.Store, ca cache.Cache, v FileValidator, up *Uploader, cfg config.PipelineConfig, opts ...Option) *Service {
	if cfg.CommitChunkSize <= 0 {
		cfg.CommitChunkSize = defaultChunkSize
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	s := &Service{
		store:     st,
		cache:     ca,
		validator: v,
		uploader:  up,
		events:    events.Noop{},
		cfg:       cfg,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		logger:    slog.Default().With("component", "program_service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New(nil)
	}
	return s
}

// Register validates the submission and, when it passes, creates the program
// row and starts the background pipeline. It returns before any upload.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, apperr.Newf(apperr.CodeInvalidRequest, "program_title is required")
	}
	if req.UserID == "" {
		return nil, apperr.Newf(apperr.CodeInvalidRequest, "user_id is required")
	}

	programID := s.newID()
	validation := s.validator.ValidateFiles(req.Files)
	if !validation.IsValid {
		s.metrics.ValidationRejected.Inc()
		s.logger.Info("program rejected by validation",
			"program_id", programID,
			"errors", len(validation.Errors),
		)
		return &RegisterResult{
			ProgramID:    programID,
			ProgramTitle: title,
			Status:       models.ProgramStatusValidationFailed,
			Message:      "File validation failed",
			Validation:   validation,
		}, nil
	}

	now := s.now()
	p := &models.Program{
		ProgramID:    programID,
		ProgramTitle: title,
		UserID:       req.UserID,
		Status:       models.ProgramStatusProcessing,
		S3Paths:      map[string]string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if d := strings.TrimSpace(req.Description); d != "" {
		p.ProgramDescription = &d
	}
	if err := s.store.CreateProgram(ctx, p); err != nil {
		s.logger.Error("failed to create program", "program_id", programID, "error", err)
		return nil, apperr.Wrap(apperr.CodeProgramRegistrationError, err)
	}
	s.announce(ctx, p, models.ProgramStatusProcessing, "")

	s.wg.Add(1)
	go s.runPipeline(context.WithoutCancel(ctx), p, req.Files)

	return &RegisterResult{
		ProgramID:    programID,
		ProgramTitle: title,
		Status:       models.ProgramStatusProcessing,
		Message:      "Program registered; files are being processed in the background",
		Validation:   validation,
	}, nil
}

// GetProgram returns a program owned by userID.
func (s *Service) GetProgram(ctx context.Context, programID, userID string) (*models.Program, error) {
	return s.ownedProgram(ctx, programID, userID)
}

// ListPrograms returns the programs of userID, newest first.
func (s *Service) ListPrograms(ctx context.Context, userID string) ([]*models.Program, error) {
	programs, err := s.store.ListProgramsByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDatabaseQueryError, err)
	}
	return programs, nil
}

// GetProgramStatus returns the current status, preferring the cached value.
func (s *Service) GetProgramStatus(ctx context.Context, programID, userID string) (*StatusInfo, error) {
	p, err := s.ownedProgram(ctx, programID, userID)
	if err != nil {
		return nil, err
	}
	status, ok, err := s.cache.GetProgramStatus(ctx, programID)
	if err != nil {
		s.logger.Warn("status cache read failed", "program_id", programID, "error", err)
	}
	if err == nil && ok {
		return &StatusInfo{ProgramID: programID, Status: status, Cached: true}, nil
	}
	if err := s.cache.SetProgramStatus(ctx, programID, p.Status, s.cfg.StatusTTL); err != nil {
		s.logger.Warn("status cache write failed", "program_id", programID, "error", err)
	}
	return &StatusInfo{ProgramID: programID, Status: p.Status}, nil
}

// ListFailures returns the failure rows of a program. An empty failureType
// lists every type.
func (s *Service) ListFailures(ctx context.Context, programID, userID, failureType string) (*FailureList, error) {
	filter := store.FailureFilter{ProgramID: programID}
	switch failureType {
	case "":
	case models.FailureTypePreprocessing, models.FailureTypeDocumentStorage, models.FailureTypeVectorIndexing:
		filter.FailureTypes = []string{failureType}
	default:
		return nil, apperr.Newf(apperr.CodeInvalidRequest, "unknown failure_type %q", failureType)
	}

	if _, err := s.ownedProgram(ctx, programID, userID); err != nil {
		return nil, err
	}
	failures, err := s.store.ListFailures(ctx, filter)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDatabaseQueryError, err)
	}
	return &FailureList{ProgramID: programID, Failures: failures, Count: len(failures)}, nil
}

// Wait blocks until every background pipeline has returned or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) ownedProgram(ctx context.Context, programID, userID string) (*models.Program, error) {
	p, err := s.store.GetProgram(ctx, programID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.CodeProgramNotFound)
	}
	if err != nil {
		s.logger.Error("failed to load program", "program_id", programID, "error", err)
		return nil, apperr.Wrap(apperr.CodeDatabaseQueryError, err)
	}
	if p.UserID != userID {
		return nil, apperr.New(apperr.CodeAccessDenied)
	}
	return p, nil
}

// announce publishes a status change to the cache, the event stream and the
// metrics. All three are best effort.
func (s *Service) announce(ctx context.Context, p *models.Program, status, errMsg string) {
	if err := s.cache.SetProgramStatus(ctx, p.ProgramID, status, s.cfg.StatusTTL); err != nil {
		s.logger.Warn("status cache write failed", "program_id", p.ProgramID, "error", err)
	}

	evCtx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()
	err := s.events.Publish(evCtx, events.ProgramEvent{
		ProgramID:    p.ProgramID,
		UserID:       p.UserID,
		Status:       status,
		ErrorMessage: errMsg,
		OccurredAt:   s.now(),
	})
	if err != nil {
		s.logger.Warn("program event not published", "program_id", p.ProgramID, "status", status, "error", err)
	}

	if status != models.ProgramStatusProcessing {
		s.metrics.ProgramsFinished.WithLabelValues(status).Inc()
	}
}

func newRowID() string {
	return uuid.NewString()
}
