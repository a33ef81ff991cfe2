package program

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/c00lpeace/project-template-final/internal/indexing"
	"github.com/c00lpeace/project-template-final/internal/objectstore"
	"github.com/c00lpeace/project-template-final/internal/validator"
	"github.com/c00lpeace/project-template-final/pkg/models"
)

const (
	contentTypeZip  = "application/zip"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	contentTypeCSV  = "text/csv"
	contentTypeJSON = "application/json"
)

// UploadResult holds the storage locations of a program's artifacts.
type UploadResult struct {
	LadderZipPath      string   `json:"ladder_zip_path"`
	UnzippedBasePath   string   `json:"unzipped_base_path"`
	ClassificationPath string   `json:"classification_xlsx_path"`
	DeviceCommentPath  string   `json:"device_comment_csv_path"`
	UnzippedFiles      []string `json:"unzipped_files"`

	ClassificationKey string `json:"-"`
	DeviceCommentKey  string `json:"-"`
}

// S3Paths returns the artifact map persisted on the program row.
func (r *UploadResult) S3Paths() map[string]string {
	return map[string]string{
		models.ArtifactLadderZip:      r.LadderZipPath,
		models.ArtifactUnzippedBase:   r.UnzippedBasePath,
		models.ArtifactClassification: r.ClassificationPath,
		models.ArtifactDeviceComment:  r.DeviceCommentPath,
	}
}

// Uploader moves program artifacts into object storage, turns ladder files
// into JSON documents and asks the indexing service to pick them up.
type Uploader struct {
	objects   objectstore.Gateway
	indexer   indexing.Indexer
	rules     validator.Rules
	chunkSize int
	logger    *slog.Logger
}

// NewUploader creates an Uploader. chunkSize controls how often preprocessing
// progress is logged.
func NewUploader(objects objectstore.Gateway, indexer indexing.Indexer, rules validator.Rules, chunkSize int) *Uploader {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if rules.MaxUncompressedBytes <= 0 {
		rules.MaxUncompressedBytes = validator.DefaultRules().MaxUncompressedBytes
	}
	return &Uploader{
		objects:   objects,
		indexer:   indexer,
		rules:     rules,
		chunkSize: chunkSize,
		logger:    slog.Default().With("component", "program_uploader"),
	}
}

// UploadAndUnzip stores the three artifacts and every archive member. Members
// are uploaded in lexical order. Objects already written stay in place when a
// later upload fails.
func (u *Uploader) UploadAndUnzip(ctx context.Context, programID string, files models.ProgramFiles) (*UploadResult, error) {
	zipLoc, err := u.objects.Put(ctx, objectstore.LadderZipKey(programID), files.LadderZip.Content, contentTypeZip)
	if err != nil {
		return nil, fmt.Errorf("upload ladder archive: %w", err)
	}

	dir, err := os.MkdirTemp("", "program-"+programID+"-")
	if err != nil {
		return nil, fmt.Errorf("create extract dir: %w", err)
	}
	defer os.RemoveAll(dir)

	members, err := u.extractArchive(files.LadderZip.Content, dir)
	if err != nil {
		return nil, err
	}

	unzipped := make([]string, 0, len(members))
	for _, rel := range members {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("read extracted %s: %w", rel, err)
		}
		key := objectstore.UnzippedKey(programID, rel)
		if _, err := u.objects.Put(ctx, key, data, mime.TypeByExtension(path.Ext(rel))); err != nil {
			return nil, fmt.Errorf("upload member %s: %w", rel, err)
		}
		unzipped = append(unzipped, key)
	}

	classKey := objectstore.ClassificationKey(programID)
	classLoc, err := u.objects.Put(ctx, classKey, files.ClassificationXLSX.Content, contentTypeXLSX)
	if err != nil {
		return nil, fmt.Errorf("upload classification sheet: %w", err)
	}
	commentKey := objectstore.DeviceCommentKey(programID)
	commentLoc, err := u.objects.Put(ctx, commentKey, files.DeviceCommentCSV.Content, contentTypeCSV)
	if err != nil {
		return nil, fmt.Errorf("upload device comments: %w", err)
	}

	u.logger.Info("program artifacts uploaded",
		"program_id", programID,
		"members", len(unzipped),
	)

	return &UploadResult{
		LadderZipPath:      zipLoc,
		UnzippedBasePath:   objectstore.UnzippedPrefix(programID),
		ClassificationPath: classLoc,
		DeviceCommentPath:  commentLoc,
		UnzippedFiles:      unzipped,
		ClassificationKey:  classKey,
		DeviceCommentKey:   commentKey,
	}, nil
}

// extractArchive writes every safe file member of data under dir and returns
// their slash-separated relative paths sorted lexically.
func (u *Uploader) extractArchive(data []byte, dir string) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, fmt.Errorf("open ladder archive: %w", err)
	}

	byName := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name, ok := validator.MemberPath(f.Name)
		if !ok {
			u.logger.Warn("skipping unsafe archive member", "member", f.Name)
			continue
		}
		byName[name] = f
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	remaining := u.rules.MaxUncompressedBytes
	for _, name := range names {
		n, err := extractMember(byName[name], filepath.Join(dir, filepath.FromSlash(name)), remaining)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", name, err)
		}
		remaining -= n
	}
	return names, nil
}

func extractMember(f *zip.File, dst string, limit int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	n, err := io.Copy(out, io.LimitReader(rc, limit+1))
	if err != nil {
		return n, err
	}
	if n > limit {
		return n, errors.New("archive exceeds uncompressed size limit")
	}
	return n, nil
}

// RequestVectorIndexing asks the indexing service to index the program.
// Transport errors are returned to the caller.
func (u *Uploader) RequestVectorIndexing(ctx context.Context, programID string, s3Paths map[string]string) (bool, error) {
	ok, err := u.indexer.Index(ctx, indexing.Request{ProgramID: programID, S3Paths: s3Paths})
	if err != nil {
		return false, fmt.Errorf("request vector indexing: %w", err)
	}
	return ok, nil
}
