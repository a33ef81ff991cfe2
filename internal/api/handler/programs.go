// Package handler holds the HTTP handlers of the ingestion API.
package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/c00lpeace/project-template-final/internal/api/response"
	"github.com/c00lpeace/project-template-final/internal/program"
	"github.com/c00lpeace/project-template-final/pkg/models"
	"github.com/go-chi/chi/v5"
)

const (
	defaultUserID    = "user"
	defaultRetryType = program.RetryTypeAll

	// Parts above this size spill to temporary files while parsing.
	multipartMemory = 32 << 20
)

// Multipart field names of a registration.
const (
	FieldLadderZip          = "ladder_zip"
	FieldClassificationXLSX = "classification_xlsx"
	FieldDeviceCommentCSV   = "device_comment_csv"
	FieldTitle              = "program_title"
	FieldDescription        = "program_description"
	FieldUserID             = "user_id"
)

// ProgramService is the part of program.Service the handlers need.
type ProgramService interface {
	Register(ctx context.Context, req program.RegisterRequest) (*program.RegisterResult, error)
	GetProgram(ctx context.Context, programID, userID string) (*models.Program, error)
	ListPrograms(ctx context.Context, userID string) ([]*models.Program, error)
	GetProgramStatus(ctx context.Context, programID, userID string) (*program.StatusInfo, error)
	RetryFailedFiles(ctx context.Context, programID, userID, retryType string) (*program.RetryResult, error)
	ListFailures(ctx context.Context, programID, userID, failureType string) (*program.FailureList, error)
}

// NewRegisterHandler returns an http.HandlerFunc for POST /programs/register.
// Request bodies above maxBytes are rejected with 413.
func NewRegisterHandler(svc ProgramService, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if maxBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
					fmt.Sprintf("Upload exceeds %d bytes", tooLarge.Limit), nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid multipart form", nil)
			return
		}
		defer r.MultipartForm.RemoveAll()

		files := models.ProgramFiles{}
		var missing []string
		for _, part := range []struct {
			field string
			dst   *models.ProgramFile
		}{
			{FieldLadderZip, &files.LadderZip},
			{FieldClassificationXLSX, &files.ClassificationXLSX},
			{FieldDeviceCommentCSV, &files.DeviceCommentCSV},
		} {
			f, err := readFormFile(r, part.field)
			if errors.Is(err, http.ErrMissingFile) {
				missing = append(missing, part.field)
				continue
			}
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					fmt.Sprintf("Failed to read %s", part.field), nil)
				return
			}
			*part.dst = f
		}
		if r.FormValue(FieldTitle) == "" {
			missing = append(missing, FieldTitle)
		}
		if len(missing) > 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"Missing required fields", map[string][]string{"missing": missing})
			return
		}

		result, err := svc.Register(r.Context(), program.RegisterRequest{
			Title:       r.FormValue(FieldTitle),
			Description: r.FormValue(FieldDescription),
			UserID:      formOr(r, FieldUserID, defaultUserID),
			Files:       files,
		})
		if err != nil {
			response.FromError(w, err)
			return
		}

		out := response.Outcome{Message: result.Message}
		if result.Accepted() {
			out.Status = "success"
			out.Data = registeredProgram{
				ProgramID:    result.ProgramID,
				ProgramTitle: result.ProgramTitle,
				Status:       result.Status,
			}
			if len(result.Validation.Warnings) > 0 {
				out.ValidationResult = result.Validation
			}
		} else {
			out.Status = "validation_failed"
			out.ValidationResult = result.Validation
		}
		response.WithStatus(w, http.StatusOK, out)
	}
}

type registeredProgram struct {
	ProgramID    string `json:"program_id"`
	ProgramTitle string `json:"program_title"`
	Status       string `json:"status"`
}

// NewListProgramsHandler returns an http.HandlerFunc for GET /programs/programs.
func NewListProgramsHandler(svc ProgramService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		programs, err := svc.ListPrograms(r.Context(), queryOr(r, "user_id", defaultUserID))
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.JSON(w, programs)
	}
}

// NewGetProgramHandler returns an http.HandlerFunc for GET /programs/programs/{programID}.
func NewGetProgramHandler(svc ProgramService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := svc.GetProgram(r.Context(), chi.URLParam(r, "programID"), queryOr(r, "user_id", defaultUserID))
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.JSON(w, p)
	}
}

// NewProgramStatusHandler returns an http.HandlerFunc for
// GET /programs/programs/{programID}/status.
func NewProgramStatusHandler(svc ProgramService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := svc.GetProgramStatus(r.Context(), chi.URLParam(r, "programID"), queryOr(r, "user_id", defaultUserID))
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.JSON(w, status)
	}
}

// NewRetryHandler returns an http.HandlerFunc for
// POST /programs/programs/{programID}/retry.
func NewRetryHandler(svc ProgramService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := svc.RetryFailedFiles(r.Context(),
			chi.URLParam(r, "programID"),
			queryOr(r, "user_id", defaultUserID),
			queryOr(r, "retry_type", defaultRetryType),
		)
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.JSON(w, result)
	}
}

// NewListFailuresHandler returns an http.HandlerFunc for
// GET /programs/programs/{programID}/failures.
func NewListFailuresHandler(svc ProgramService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ListFailures(r.Context(),
			chi.URLParam(r, "programID"),
			queryOr(r, "user_id", defaultUserID),
			r.URL.Query().Get("failure_type"),
		)
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.JSON(w, list)
	}
}

func readFormFile(r *http.Request, field string) (models.ProgramFile, error) {
	f, hdr, err := r.FormFile(field)
	if err != nil {
		return models.ProgramFile{}, err
	}
	defer f.Close()
	return readPart(f, hdr)
}

func readPart(f multipart.File, hdr *multipart.FileHeader) (models.ProgramFile, error) {
	content, err := io.ReadAll(f)
	if err != nil {
		return models.ProgramFile{}, fmt.Errorf("read %s: %w", hdr.Filename, err)
	}
	return models.ProgramFile{Filename: hdr.Filename, Content: content}, nil
}

func queryOr(r *http.Request, key, fallback string) string {
	if v := r.URL.Query().Get(key); v != "" {
		return v
	}
	return fallback
}

func formOr(r *http.Request, key, fallback string) string {
	if v := r.FormValue(key); v != "" {
		return v
	}
	return fallback
}
