package program

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/c00lpeace/project-template-final/internal/objectstore"
	"github.com/c00lpeace/project-template-final/internal/tabular"
	"github.com/c00lpeace/project-template-final/pkg/models"
)

// Ladder CSV columns. Only the instruction column is required.
const (
	ladderStepColumn        = "step"
	ladderInstructionColumn = "instruction"
	ladderDeviceColumn      = "device"
)

// ProcessedFile describes one uploaded JSON document.
type ProcessedFile struct {
	Key            string `json:"-"`
	S3Path         string `json:"s3_path"`
	S3Key          string `json:"s3_key"`
	Filename       string `json:"filename"`
	FileSize       int64  `json:"file_size"`
	SourceFilePath string `json:"source_file_path"`
	SourceIndex    int    `json:"source_index"`
}

// FailedFile describes one source file that could not be preprocessed.
type FailedFile struct {
	FilePath   string    `json:"file_path"`
	Index      int       `json:"index"`
	Error      string    `json:"error"`
	RetryCount int       `json:"retry_count"`
	Timestamp  time.Time `json:"timestamp"`
}

// Details returns the failure as the error_details map of a failure row.
func (f FailedFile) Details() map[string]any {
	return map[string]any{
		"file_path":   f.FilePath,
		"index":       f.Index,
		"error":       f.Error,
		"retry_count": f.RetryCount,
		"timestamp":   f.Timestamp.Format(time.RFC3339),
	}
}

// PreprocessResult is the outcome of one preprocessing batch. ProcessedFiles
// keeps source order.
type PreprocessResult struct {
	ProcessedFiles []ProcessedFile
	FailedFiles    []FailedFile
	Summary        models.BatchSummary
}

// LadderDocument is the JSON written for each ladder file.
type LadderDocument struct {
	ProgramID      string            `json:"program_id"`
	SourceFile     string            `json:"source_file"`
	LogicName      string            `json:"logic_name"`
	Classification map[string]string `json:"classification,omitempty"`
	Steps          []LadderStep      `json:"steps"`
	Devices        []DeviceRef       `json:"devices"`
}

// LadderStep is one instruction row of a ladder file.
type LadderStep struct {
	Step          string `json:"step,omitempty"`
	Instruction   string `json:"instruction"`
	Device        string `json:"device,omitempty"`
	DeviceComment string `json:"device_comment,omitempty"`
}

// DeviceRef is a device referenced by the file, in first-use order.
type DeviceRef struct {
	Device  string `json:"device"`
	Comment string `json:"comment,omitempty"`
}

// references holds the per-program lookup tables.
type references struct {
	comments map[string]string
	classes  map[string]map[string]string
}

// loadReferences reads the device comment table and the classification sheet
// of a program. Either failing is fatal for the batch.
func (u *Uploader) loadReferences(ctx context.Context, classificationKey, deviceCommentKey string) (*references, error) {
	csvData, err := u.objects.Get(ctx, deviceCommentKey)
	if err != nil {
		return nil, fmt.Errorf("download device comments: %w", err)
	}
	comments, err := tabular.ReadCSV(csvData)
	if err != nil {
		return nil, fmt.Errorf("read device comments: %w", err)
	}

	xlsxData, err := u.objects.Get(ctx, classificationKey)
	if err != nil {
		return nil, fmt.Errorf("download classification sheet: %w", err)
	}
	classes, err := tabular.ReadFirstSheet(xlsxData)
	if err != nil {
		return nil, fmt.Errorf("read classification sheet: %w", err)
	}

	refs := &references{
		comments: make(map[string]string, len(comments.Rows)),
		classes:  make(map[string]map[string]string, len(classes.Rows)),
	}
	for _, row := range comments.Rows {
		dev := strings.ToUpper(comments.Value(row, u.rules.DeviceColumn))
		if dev == "" {
			continue
		}
		if _, seen := refs.comments[dev]; !seen {
			refs.comments[dev] = comments.Value(row, u.rules.CommentColumn)
		}
	}
	records := classes.Records()
	for i, row := range classes.Rows {
		name := strings.ToLower(classes.Value(row, u.rules.ClassificationLogicColumn))
		if name == "" {
			continue
		}
		if _, seen := refs.classes[name]; !seen {
			refs.classes[name] = records[i]
		}
	}
	return refs, nil
}

// PreprocessAndCreateJSON turns every unzipped ladder file into a JSON
// document. A failing file is recorded and the batch moves on.
func (u *Uploader) PreprocessAndCreateJSON(ctx context.Context, programID string, unzippedFiles []string, classificationKey, deviceCommentKey string) (*PreprocessResult, error) {
	refs, err := u.loadReferences(ctx, classificationKey, deviceCommentKey)
	if err != nil {
		return nil, err
	}

	result := &PreprocessResult{ProcessedFiles: make([]ProcessedFile, 0, len(unzippedFiles))}
	for idx, key := range unzippedFiles {
		pf, err := u.preprocessFile(ctx, programID, refs, key, idx)
		if err != nil {
			u.logger.Warn("preprocessing failed",
				"program_id", programID,
				"file", key,
				"index", idx,
				"error", err,
			)
			result.FailedFiles = append(result.FailedFiles, FailedFile{
				FilePath:  key,
				Index:     idx,
				Error:     err.Error(),
				Timestamp: time.Now().UTC(),
			})
		} else {
			result.ProcessedFiles = append(result.ProcessedFiles, pf)
		}

		if (idx+1)%u.chunkSize == 0 {
			u.logger.Info("preprocessing progress",
				"program_id", programID,
				"done", idx+1,
				"total", len(unzippedFiles),
				"failed", len(result.FailedFiles),
			)
		}
	}

	result.Summary = models.BatchSummary{
		Total:   len(unzippedFiles),
		Success: len(result.ProcessedFiles),
		Failed:  len(result.FailedFiles),
	}
	u.logger.Info("preprocessing finished",
		"program_id", programID,
		"success", result.Summary.Success,
		"failed", result.Summary.Failed,
	)
	return result, nil
}

// preprocessFile downloads one ladder file, converts it and uploads the JSON
// document under the processed key for index.
func (u *Uploader) preprocessFile(ctx context.Context, programID string, refs *references, key string, index int) (ProcessedFile, error) {
	src, err := u.objects.Get(ctx, key)
	if err != nil {
		return ProcessedFile{}, fmt.Errorf("download %s: %w", key, err)
	}
	doc, err := u.buildDocument(programID, key, src, refs)
	if err != nil {
		return ProcessedFile{}, err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return ProcessedFile{}, fmt.Errorf("encode document: %w", err)
	}

	outKey := objectstore.ProcessedKey(programID, index)
	loc, err := u.objects.Put(ctx, outKey, body, contentTypeJSON)
	if err != nil {
		return ProcessedFile{}, fmt.Errorf("upload %s: %w", outKey, err)
	}
	return ProcessedFile{
		Key:            fmt.Sprintf("json_file_%d", index),
		S3Path:         loc,
		S3Key:          outKey,
		Filename:       objectstore.ProcessedFilename(programID, index),
		FileSize:       int64(len(body)),
		SourceFilePath: key,
		SourceIndex:    index,
	}, nil
}

func (u *Uploader) buildDocument(programID, key string, src []byte, refs *references) (*LadderDocument, error) {
	ext := strings.ToLower(path.Ext(key))
	if !slices.Contains(u.rules.LadderExtensions, ext) {
		return nil, fmt.Errorf("unsupported ladder file type %q", ext)
	}
	table, err := tabular.ReadCSV(src)
	if err != nil {
		return nil, fmt.Errorf("parse ladder file: %w", err)
	}
	if missing := table.Missing([]string{ladderInstructionColumn}); len(missing) > 0 {
		return nil, fmt.Errorf("ladder file missing columns: %s", strings.Join(missing, ", "))
	}
	if len(table.Rows) == 0 {
		return nil, errors.New("ladder file has no instructions")
	}

	logic := strings.TrimSuffix(path.Base(key), path.Ext(key))
	doc := &LadderDocument{
		ProgramID:      programID,
		SourceFile:     key,
		LogicName:      logic,
		Classification: refs.classes[strings.ToLower(logic)],
		Steps:          make([]LadderStep, 0, len(table.Rows)),
		Devices:        []DeviceRef{},
	}
	seen := make(map[string]bool)
	for _, row := range table.Rows {
		step := LadderStep{
			Step:        table.Value(row, ladderStepColumn),
			Instruction: table.Value(row, ladderInstructionColumn),
			Device:      table.Value(row, ladderDeviceColumn),
		}
		if step.Device != "" {
			dev := strings.ToUpper(step.Device)
			step.DeviceComment = refs.comments[dev]
			if !seen[dev] {
				seen[dev] = true
				doc.Devices = append(doc.Devices, DeviceRef{Device: step.Device, Comment: step.DeviceComment})
			}
		}
		doc.Steps = append(doc.Steps, step)
	}
	return doc, nil
}
