package program

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/c00lpeace/project-template-final/internal/cache"
	"github.com/c00lpeace/project-template-final/internal/store"
	"github.com/c00lpeace/project-template-final/pkg/models"
)

// Job step labels written to processing_jobs.current_step.
const (
	stepIndexingRequested = "Vector DB indexing requested"
	stepIndexingCompleted = "Vector DB indexing completed"
	stepIndexingFailed    = "Vector DB indexing failed"
	stepIndexingError     = "Vector DB indexing error"

	indexingRejectedMessage = "Vector DB indexing request failed"
)

// runPipeline is the background half of Register. It always leaves the
// program in a terminal status unless the process dies first.
func (s *Service) runPipeline(ctx context.Context, p *models.Program, files models.ProgramFiles) {
	defer s.wg.Done()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.markFailed(ctx, p, fmt.Errorf("wait for pipeline slot: %w", err))
		return
	}
	defer s.sem.Release(1)

	release, err := s.cache.AcquireLock(ctx, cache.ProgramLockKey(p.ProgramID), s.cfg.LockTTL)
	switch {
	case errors.Is(err, cache.ErrLockHeld):
		s.markFailed(ctx, p, errors.New("another pipeline is running for this program"))
		return
	case err != nil:
		s.logger.Warn("pipeline lock unavailable, continuing without it", "program_id", p.ProgramID, "error", err)
	default:
		defer func() {
			if err := release(ctx); err != nil {
				s.logger.Warn("pipeline lock release failed", "program_id", p.ProgramID, "error", err)
			}
		}()
	}

	start := time.Now()
	s.metrics.PipelinesInFlight.Inc()
	defer func() {
		s.metrics.PipelinesInFlight.Dec()
		s.metrics.PipelineDuration.Observe(time.Since(start).Seconds())
	}()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in program pipeline", "program_id", p.ProgramID, "error", r)
			s.markFailed(ctx, p, fmt.Errorf("panic: %v", r))
		}
	}()

	s.logger.Info("program pipeline started", "program_id", p.ProgramID)
	err = s.process(ctx, p, files)
	switch {
	case err == nil:
		s.logger.Info("program pipeline finished", "program_id", p.ProgramID, "duration", time.Since(start))
	case errors.Is(err, ErrIndexing):
		s.logger.Error("program indexing failed", "program_id", p.ProgramID, "error", err)
	default:
		s.logger.Error("program pipeline failed", "program_id", p.ProgramID, "error", err)
		s.markFailed(ctx, p, err)
	}
}

// process runs upload, preprocessing, document persistence, metadata and
// indexing in order. Each phase commits before the next one starts.
func (s *Service) process(ctx context.Context, p *models.Program, files models.ProgramFiles) error {
	up, err := s.uploader.UploadAndUnzip(ctx, p.ProgramID, files)
	if err != nil {
		return err
	}
	p.S3Paths = up.S3Paths()
	err = store.WithTx(ctx, s.store, func(tx store.Tx) error {
		return tx.UpdateProgramS3Paths(ctx, p.ProgramID, p.S3Paths)
	})
	if err != nil {
		return fmt.Errorf("save s3 paths: %w", err)
	}

	pre, err := s.uploader.PreprocessAndCreateJSON(ctx, p.ProgramID, up.UnzippedFiles, up.ClassificationKey, up.DeviceCommentKey)
	if err != nil {
		return fmt.Errorf("preprocess: %w", err)
	}
	if err := s.recordPreprocessingFailures(ctx, p.ProgramID, pre.FailedFiles); err != nil {
		return err
	}

	created, docFailures, err := s.persistDocuments(ctx, p, pre.ProcessedFiles)
	if err != nil {
		return err
	}

	hasPartial := len(pre.FailedFiles) > 0 || len(docFailures) > 0
	if hasPartial {
		s.logger.Warn("program has partial failures",
			"program_id", p.ProgramID,
			"preprocessing_failed", len(pre.FailedFiles),
			"document_failed", len(docFailures),
		)
	}
	docSummary := models.BatchSummary{
		Total:   len(pre.ProcessedFiles),
		Success: created,
		Failed:  len(docFailures),
	}
	err = store.WithTx(ctx, s.store, func(tx store.Tx) error {
		current, err := tx.GetProgram(ctx, p.ProgramID)
		if err != nil {
			return err
		}
		meta := current.Metadata
		total := len(up.UnzippedFiles)
		meta.TotalExpected = &total
		meta.TotalSuccessfulDocuments = &created
		meta.HasPartialFailure = &hasPartial
		meta.PreprocessingSummary = &pre.Summary
		meta.DocumentStorageSummary = &docSummary
		p.Metadata = meta
		return tx.UpdateProgramMetadata(ctx, p.ProgramID, meta)
	})
	if err != nil {
		return fmt.Errorf("save processing metadata: %w", err)
	}

	return s.indexProgram(ctx, p)
}

// recordPreprocessingFailures writes one failure row per failed file in a
// single transaction.
func (s *Service) recordPreprocessingFailures(ctx context.Context, programID string, failed []FailedFile) error {
	if len(failed) == 0 {
		return nil
	}
	err := store.WithTx(ctx, s.store, func(tx store.Tx) error {
		for _, ff := range failed {
			filePath, index := ff.FilePath, ff.Index
			f := &models.ProcessingFailure{
				FailureID:    newRowID(),
				ProgramID:    programID,
				FailureType:  models.FailureTypePreprocessing,
				ErrorMessage: ff.Error,
				ErrorDetails: ff.Details(),
				FilePath:     &filePath,
				FileIndex:    &index,
				CreatedAt:    s.now(),
				UpdatedAt:    s.now(),
			}
			if err := tx.CreateFailure(ctx, f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save preprocessing failures: %w", err)
	}
	s.metrics.FailuresRecorded.WithLabelValues(models.FailureTypePreprocessing).Add(float64(len(failed)))
	s.logger.Info("preprocessing failures recorded", "program_id", programID, "count", len(failed))
	return nil
}

// persistDocuments inserts one document per processed file. Inserts are
// committed every CommitChunkSize successes. A failed insert only discards
// itself and is recorded as a document_storage failure.
func (s *Service) persistDocuments(ctx context.Context, p *models.Program, files []ProcessedFile) (int, []*models.ProcessingFailure, error) {
	var (
		tx      store.Tx
		pending int
		created int
		failed  []*models.ProcessingFailure
	)
	defer func() {
		if tx != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, pf := range files {
		if tx == nil {
			var err error
			if tx, err = s.store.Begin(ctx); err != nil {
				return created, failed, fmt.Errorf("begin document chunk: %w", err)
			}
		}

		doc := s.newDocument(p, pf.Filename, pf.S3Key, pf.S3Path, pf.FileSize, models.DocumentMetadata{
			SourceFile:   pf.Key,
			JSONFilename: pf.Filename,
		})
		err := tx.Savepoint(ctx, func(r store.Repository) error {
			return r.CreateDocument(ctx, doc)
		})
		if err != nil {
			s.logger.Error("document insert failed", "program_id", p.ProgramID, "file", pf.Filename, "error", err)
			f, ferr := s.recordDocumentFailure(ctx, p.ProgramID, pf, err)
			if ferr != nil {
				return created, failed, ferr
			}
			failed = append(failed, f)
			continue
		}

		pending++
		if pending == s.cfg.CommitChunkSize {
			if err := tx.Commit(ctx); err != nil {
				tx = nil
				return created, failed, fmt.Errorf("commit document chunk: %w", err)
			}
			tx = nil
			created += pending
			pending = 0
			s.logger.Info("document chunk committed",
				"program_id", p.ProgramID,
				"created", created,
				"total", len(files),
			)
		}
	}

	if tx != nil && pending > 0 {
		err := tx.Commit(ctx)
		tx = nil
		if err != nil {
			return created, failed, fmt.Errorf("commit document chunk: %w", err)
		}
		created += pending
	}

	s.metrics.DocumentsCreated.Add(float64(created))
	s.logger.Info("documents saved", "program_id", p.ProgramID, "created", created, "failed", len(failed))
	return created, failed, nil
}

func (s *Service) recordDocumentFailure(ctx context.Context, programID string, pf ProcessedFile, cause error) (*models.ProcessingFailure, error) {
	filename, s3Path, s3Key, source, index := pf.Filename, pf.S3Path, pf.S3Key, pf.SourceFilePath, pf.SourceIndex
	f := &models.ProcessingFailure{
		FailureID:    newRowID(),
		ProgramID:    programID,
		FailureType:  models.FailureTypeDocumentStorage,
		ErrorMessage: cause.Error(),
		ErrorDetails: map[string]any{
			"json_key":         pf.Key,
			"source_file_path": pf.SourceFilePath,
			"source_index":     pf.SourceIndex,
		},
		FilePath:  &source,
		FileIndex: &index,
		Filename:  &filename,
		S3Path:    &s3Path,
		S3Key:     &s3Key,
		CreatedAt: s.now(),
		UpdatedAt: s.now(),
	}
	err := store.WithTx(ctx, s.store, func(tx store.Tx) error {
		return tx.CreateFailure(ctx, f)
	})
	if err != nil {
		return nil, fmt.Errorf("save document failure: %w", err)
	}
	s.metrics.FailuresRecorded.WithLabelValues(models.FailureTypeDocumentStorage).Inc()
	return f, nil
}

// newDocument builds a document row for a processed JSON artifact. meta
// carries the fields that differ between pipeline and retry inserts.
func (s *Service) newDocument(p *models.Program, filename, key, location string, size int64, meta models.DocumentMetadata) *models.Document {
	now := s.now()
	meta.ProgramID = p.ProgramID
	meta.ProgramTitle = p.ProgramTitle
	meta.ProcessingStage = models.ProcessingStagePreproc
	return &models.Document{
		DocumentID:       newRowID(),
		DocumentName:     p.ProgramTitle + "_" + filename,
		OriginalFilename: filename,
		FileKey:          key,
		UploadPath:       location,
		FileSize:         size,
		FileType:         models.DocumentFileTypeJSON,
		FileExtension:    models.DocumentExtensionJSON,
		UserID:           p.UserID,
		Status:           models.DocumentStatusProcessing,
		DocumentType:     models.DocumentTypeCommon,
		Metadata:         meta,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// indexProgram creates the indexing job, calls the indexer and records the
// outcome on both the job and the program in one transaction.
func (s *Service) indexProgram(ctx context.Context, p *models.Program) error {
	now := s.now()
	job := &models.ProcessingJob{
		JobID:      models.IndexingJobID(p.ProgramID, now),
		DocID:      p.ProgramID,
		JobType:    models.JobTypeVectorIndexing,
		Status:     models.JobStatusPending,
		TotalSteps: 1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := store.WithTx(ctx, s.store, func(tx store.Tx) error {
		if err := tx.CreateJob(ctx, job); err != nil {
			return err
		}
		return tx.UpdateJobStatus(ctx, job.JobID, models.JobStatusRunning, store.WithCurrentStep(stepIndexingRequested))
	})
	if err != nil {
		return fmt.Errorf("create indexing job: %w", err)
	}
	s.logger.Info("vector indexing requested", "program_id", p.ProgramID, "job_id", job.JobID)

	ok, callErr := s.uploader.RequestVectorIndexing(ctx, p.ProgramID, p.S3Paths)

	var (
		jobStatus, programStatus, errMsg string
		jobOpts                          []store.JobUpdateOption
		programOpts                      []store.ProgramUpdateOption
	)
	switch {
	case callErr != nil:
		s.metrics.IndexingRequests.WithLabelValues("error").Inc()
		jobStatus, programStatus, errMsg = models.JobStatusFailed, models.ProgramStatusIndexingFailed, callErr.Error()
		jobOpts = []store.JobUpdateOption{store.WithCurrentStep(stepIndexingError), store.WithErrorMessage(errMsg)}
		programOpts = []store.ProgramUpdateOption{store.WithProgramError(errMsg)}
	case !ok:
		s.metrics.IndexingRequests.WithLabelValues("rejected").Inc()
		jobStatus, programStatus, errMsg = models.JobStatusFailed, models.ProgramStatusIndexingFailed, indexingRejectedMessage
		jobOpts = []store.JobUpdateOption{store.WithCurrentStep(stepIndexingFailed), store.WithErrorMessage(errMsg)}
		programOpts = []store.ProgramUpdateOption{store.WithProgramError(errMsg)}
	default:
		s.metrics.IndexingRequests.WithLabelValues("accepted").Inc()
		jobStatus, programStatus = models.JobStatusCompleted, models.ProgramStatusCompleted
		jobOpts = []store.JobUpdateOption{
			store.WithCurrentStep(stepIndexingCompleted),
			store.WithCompletedSteps(1),
			store.WithResultData(map[string]any{"program_id": p.ProgramID, "status": models.JobStatusCompleted}),
		}
		programOpts = []store.ProgramUpdateOption{store.WithVectorIndexed(true)}
	}

	err = store.WithTx(ctx, s.store, func(tx store.Tx) error {
		if err := tx.UpdateJobStatus(ctx, job.JobID, jobStatus, jobOpts...); err != nil {
			return err
		}
		return tx.UpdateProgramStatus(ctx, p.ProgramID, programStatus, programOpts...)
	})
	if err != nil {
		if callErr != nil {
			return fmt.Errorf("record indexing outcome: %w (indexing error: %v)", err, callErr)
		}
		return fmt.Errorf("record indexing outcome: %w", err)
	}
	p.Status = programStatus
	s.announce(ctx, p, programStatus, errMsg)

	if callErr != nil {
		return fmt.Errorf("%w: %w", ErrIndexing, callErr)
	}
	return nil
}

// markFailed moves the program to failed. A program that already reached a
// terminal status keeps it.
func (s *Service) markFailed(ctx context.Context, p *models.Program, cause error) {
	msg := cause.Error()
	err := s.store.UpdateProgramStatus(ctx, p.ProgramID, models.ProgramStatusFailed, store.WithProgramError(msg))
	if err != nil {
		s.logger.Error("failed to mark program failed", "program_id", p.ProgramID, "error", err)
		return
	}
	p.Status = models.ProgramStatusFailed
	s.announce(ctx, p, models.ProgramStatusFailed, msg)
}
