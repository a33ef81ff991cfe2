package program

import (
	"context"
	"errors"
	"fmt"

	"github.com/c00lpeace/project-template-final/internal/cache"
	"github.com/c00lpeace/project-template-final/internal/objectstore"
	"github.com/c00lpeace/project-template-final/internal/store"
	"github.com/c00lpeace/project-template-final/pkg/apperr"
	"github.com/c00lpeace/project-template-final/pkg/models"
)

// Retry scopes accepted by RetryFailedFiles.
const (
	RetryTypePreprocessing = "preprocessing"
	RetryTypeDocument      = "document"
	RetryTypeAll           = "all"
)

var retryScopes = map[string][]string{
	RetryTypePreprocessing: {models.FailureTypePreprocessing},
	RetryTypeDocument:      {models.FailureTypeDocumentStorage},
	RetryTypeAll:           {models.FailureTypePreprocessing, models.FailureTypeDocumentStorage},
}

// RetryResult is the answer of RetryFailedFiles.
type RetryResult struct {
	ProgramID string              `json:"program_id"`
	RetryType string              `json:"retry_type"`
	Results   models.RetryResults `json:"results"`
	Message   string              `json:"message"`
}

// RetryFailedFiles retries the pending failures of one program within the
// given scope. Failures that exhausted max_retry_count are skipped.
func (s *Service) RetryFailedFiles(ctx context.Context, programID, userID, retryType string) (*RetryResult, error) {
	types, ok := retryScopes[retryType]
	if !ok {
		return nil, apperr.Newf(apperr.CodeInvalidRequest, "retry_type must be one of preprocessing, document, all")
	}
	p, err := s.ownedProgram(ctx, programID, userID)
	if err != nil {
		return nil, err
	}

	release, err := s.cache.AcquireLock(ctx, cache.ProgramLockKey(programID), s.cfg.LockTTL)
	switch {
	case errors.Is(err, cache.ErrLockHeld):
		return nil, apperr.New(apperr.CodeProgramBusy)
	case err != nil:
		s.logger.Warn("retry lock unavailable, continuing without it", "program_id", programID, "error", err)
	default:
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("retry lock release failed", "program_id", programID, "error", err)
			}
		}()
	}

	failures, err := s.store.ListFailures(ctx, store.FailureFilter{
		ProgramID:    programID,
		FailureTypes: types,
		Status:       models.FailureStatusPending,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDatabaseQueryError, err)
	}

	refs := &refLoader{uploader: s.uploader, programID: programID}
	var results models.RetryResults
	for _, f := range failures {
		if f.RetryCount >= f.MaxRetryCount {
			s.logger.Info("failure exhausted its retries",
				"failure_id", f.FailureID,
				"retry_count", f.RetryCount,
				"max_retry_count", f.MaxRetryCount,
			)
			continue
		}
		counters := &results.Document
		kind := RetryTypeDocument
		if f.FailureType == models.FailureTypePreprocessing {
			counters = &results.Preprocessing
			kind = RetryTypePreprocessing
		}
		counters.Retried++

		if err := s.retryOne(ctx, p, f, refs); err != nil {
			counters.Failed++
			s.metrics.RetriedFailures.WithLabelValues(kind, "failed").Inc()
			s.logger.Error("retry failed", "failure_id", f.FailureID, "error", err)
			continue
		}
		counters.Success++
		s.metrics.RetriedFailures.WithLabelValues(kind, "success").Inc()
		s.logger.Info("failure resolved", "failure_id", f.FailureID, "failure_type", f.FailureType)
	}

	if results.Retried() > 0 {
		if err := s.appendRetryHistory(ctx, programID, retryType, results); err != nil {
			return nil, apperr.Wrap(apperr.CodeDatabaseQueryError, err)
		}
	}

	return &RetryResult{
		ProgramID: programID,
		RetryType: retryType,
		Results:   results,
		Message:   "retry completed",
	}, nil
}

// retryOne moves f through retrying and either resolves it or puts it back
// to pending with the new error.
func (s *Service) retryOne(ctx context.Context, p *models.Program, f *models.ProcessingFailure, refs *refLoader) error {
	if err := s.store.IncrementRetryCount(ctx, f.FailureID); err != nil {
		return fmt.Errorf("increment retry count: %w", err)
	}
	if err := s.store.UpdateFailureStatus(ctx, f.FailureID, models.FailureStatusRetrying); err != nil {
		return fmt.Errorf("mark retrying: %w", err)
	}
	f.RetryCount++

	var err error
	switch f.FailureType {
	case models.FailureTypePreprocessing:
		err = s.reprocess(ctx, p, f, refs)
	case models.FailureTypeDocumentStorage:
		err = s.recreateDocument(ctx, p, f)
	default:
		err = fmt.Errorf("failure type %q cannot be retried", f.FailureType)
	}
	if err != nil {
		if uerr := s.store.UpdateFailureStatus(ctx, f.FailureID, models.FailureStatusPending, store.WithFailureError(err.Error())); uerr != nil {
			// The row stays retrying and drops out of later pending queries.
			return errors.Join(err, fmt.Errorf("reset failure %s to pending: %w", f.FailureID, uerr))
		}
		return err
	}
	return nil
}

// recreateDocument inserts the document a document_storage failure lost and
// resolves the failure in the same transaction.
func (s *Service) recreateDocument(ctx context.Context, p *models.Program, f *models.ProcessingFailure) error {
	if f.Filename == nil || f.S3Key == nil || f.S3Path == nil {
		return errors.New("failure does not reference a processed file")
	}
	doc := s.newDocument(p, *f.Filename, *f.S3Key, *f.S3Path, 0, models.DocumentMetadata{
		SourceFile:   f.DetailString("json_key"),
		JSONFilename: *f.Filename,
		RetryCount:   f.RetryCount,
		IsRetry:      true,
		FailureID:    f.FailureID,
	})
	return s.resolveWithDocument(ctx, f, doc)
}

// reprocess runs preprocessing again for the source file of f.
func (s *Service) reprocess(ctx context.Context, p *models.Program, f *models.ProcessingFailure, refs *refLoader) error {
	if f.FilePath == nil || f.FileIndex == nil {
		return errors.New("failure does not reference a source file")
	}
	tables, err := refs.get(ctx)
	if err != nil {
		return err
	}
	pf, err := s.uploader.preprocessFile(ctx, p.ProgramID, tables, *f.FilePath, *f.FileIndex)
	if err != nil {
		return err
	}
	doc := s.newDocument(p, pf.Filename, pf.S3Key, pf.S3Path, pf.FileSize, models.DocumentMetadata{
		SourceFile:   pf.Key,
		JSONFilename: pf.Filename,
		RetryCount:   f.RetryCount,
		IsRetry:      true,
		FailureID:    f.FailureID,
	})
	return s.resolveWithDocument(ctx, f, doc)
}

func (s *Service) resolveWithDocument(ctx context.Context, f *models.ProcessingFailure, doc *models.Document) error {
	err := store.WithTx(ctx, s.store, func(tx store.Tx) error {
		if err := tx.CreateDocument(ctx, doc); err != nil {
			return err
		}
		return tx.UpdateFailureStatus(ctx, f.FailureID, models.FailureStatusResolved, store.WithResolvedBy(models.ResolvedByManual))
	})
	if err != nil {
		return err
	}
	s.metrics.DocumentsCreated.Inc()
	return nil
}

func (s *Service) appendRetryHistory(ctx context.Context, programID, retryType string, results models.RetryResults) error {
	return store.WithTx(ctx, s.store, func(tx store.Tx) error {
		p, err := tx.GetProgram(ctx, programID)
		if err != nil {
			return err
		}
		meta := p.Metadata
		meta.RetryHistory = append(meta.RetryHistory, models.RetryHistoryItem{
			RetryType: retryType,
			Timestamp: s.now(),
			Results:   results,
		})
		return tx.UpdateProgramMetadata(ctx, programID, meta)
	})
}

// refLoader loads the reference tables of a program once, on first use.
type refLoader struct {
	uploader  *Uploader
	programID string

	refs *references
	err  error
	done bool
}

func (l *refLoader) get(ctx context.Context) (*references, error) {
	if !l.done {
		l.done = true
		l.refs, l.err = l.uploader.loadReferences(ctx,
			objectstore.ClassificationKey(l.programID),
			objectstore.DeviceCommentKey(l.programID))
	}
	return l.refs, l.err
}
