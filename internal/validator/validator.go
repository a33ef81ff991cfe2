// Package validator checks a program submission before anything is persisted.
package validator

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/c00lpeace/project-template-final/internal/tabular"
	"github.com/c00lpeace/project-template-final/pkg/models"
)

// Result is the outcome of ValidateFiles.
type Result struct {
	IsValid      bool     `json:"is_valid"`
	Errors       []string `json:"errors"`
	Warnings     []string `json:"warnings"`
	CheckedFiles []string `json:"checked_files"`
}

func (r *Result) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validator validates submissions against a rule set. It is safe for
// concurrent use.
type Validator struct {
	rules Rules
}

func New(rules Rules) *Validator {
	return &Validator{rules: rules}
}

// Rules returns the active rule set.
func (v *Validator) Rules() Rules {
	return v.rules
}

// ValidateFiles inspects all three inputs and collects every problem found.
func (v *Validator) ValidateFiles(files models.ProgramFiles) Result {
	res := Result{Errors: []string{}, Warnings: []string{}, CheckedFiles: []string{}}

	logicNames := v.checkArchive(&res, files.LadderZip)
	v.checkClassification(&res, files.ClassificationXLSX, logicNames)
	v.checkDeviceComments(&res, files.DeviceCommentCSV)

	res.IsValid = len(res.Errors) == 0
	return res
}

// checkArchive returns the lower-cased logic names (member base names
// without extension) found in the archive.
func (v *Validator) checkArchive(res *Result, f models.ProgramFile) map[string]bool {
	res.CheckedFiles = append(res.CheckedFiles, f.Filename)
	if !v.checkFile(res, f, ".zip", "ladder_zip") {
		return nil
	}

	// ErrInsecurePath still yields a usable reader; member paths are checked below.
	zr, err := zip.NewReader(bytes.NewReader(f.Content), int64(len(f.Content)))
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		res.errorf("ladder_zip: %s is not a readable zip archive: %v", f.Filename, err)
		return nil
	}

	names := make(map[string]bool)
	var entries int
	var total uint64
	for _, m := range zr.File {
		if m.FileInfo().IsDir() {
			continue
		}
		entries++
		total += m.UncompressedSize64

		name, ok := MemberPath(m.Name)
		if !ok {
			res.errorf("ladder_zip: unsafe member path %q", m.Name)
			continue
		}
		ext := strings.ToLower(path.Ext(name))
		if !slices.Contains(v.rules.LadderExtensions, ext) {
			res.warnf("ladder_zip: %s has unsupported extension %q and will likely fail preprocessing", name, ext)
		}
		base := path.Base(name)
		names[strings.ToLower(strings.TrimSuffix(base, path.Ext(base)))] = true
	}

	if entries == 0 {
		res.errorf("ladder_zip: %s contains no files", f.Filename)
	}
	if entries > v.rules.MaxArchiveEntries {
		res.errorf("ladder_zip: %d files exceeds the limit of %d", entries, v.rules.MaxArchiveEntries)
	}
	if total > uint64(v.rules.MaxUncompressedBytes) {
		res.errorf("ladder_zip: uncompressed size %d bytes exceeds the limit of %d", total, v.rules.MaxUncompressedBytes)
	}
	return names
}

func (v *Validator) checkClassification(res *Result, f models.ProgramFile, logicNames map[string]bool) {
	res.CheckedFiles = append(res.CheckedFiles, f.Filename)
	if !v.checkFile(res, f, ".xlsx", "classification_xlsx") {
		return
	}

	tbl, err := tabular.ReadFirstSheet(f.Content)
	if err != nil {
		res.errorf("classification_xlsx: %v", err)
		return
	}
	if missing := tbl.Missing(v.rules.ClassificationRequiredColumns); len(missing) > 0 {
		res.errorf("classification_xlsx: missing required columns %s", strings.Join(missing, ", "))
		return
	}
	if len(tbl.Rows) == 0 {
		res.warnf("classification_xlsx: sheet has no data rows")
		return
	}

	// Without a readable archive there is nothing to cross-check.
	if logicNames == nil {
		return
	}
	for _, row := range tbl.Rows {
		name := tbl.Value(row, v.rules.ClassificationLogicColumn)
		if name == "" {
			continue
		}
		if !logicNames[strings.ToLower(name)] {
			res.warnf("classification_xlsx: logic %q has no matching file in the ladder archive", name)
		}
	}
}

func (v *Validator) checkDeviceComments(res *Result, f models.ProgramFile) {
	res.CheckedFiles = append(res.CheckedFiles, f.Filename)
	if !v.checkFile(res, f, ".csv", "device_comment_csv") {
		return
	}

	tbl, err := tabular.ReadCSV(f.Content)
	if err != nil {
		res.errorf("device_comment_csv: %v", err)
		return
	}
	if missing := tbl.Missing(v.rules.DeviceCommentRequiredColumns); len(missing) > 0 {
		res.errorf("device_comment_csv: missing required columns %s", strings.Join(missing, ", "))
		return
	}

	seen := make(map[string]bool, len(tbl.Rows))
	for _, row := range tbl.Rows {
		device := strings.ToUpper(tbl.Value(row, v.rules.DeviceColumn))
		if device == "" {
			continue
		}
		if seen[device] {
			res.warnf("device_comment_csv: duplicate device %s", device)
		}
		seen[device] = true
	}
}

// checkFile applies the presence and extension checks shared by every input.
func (v *Validator) checkFile(res *Result, f models.ProgramFile, ext, field string) bool {
	if f.Size() == 0 {
		res.errorf("%s: file is empty or missing", field)
		return false
	}
	if !strings.EqualFold(path.Ext(f.Filename), ext) {
		res.errorf("%s: %s must have a %s extension", field, f.Filename, ext)
		return false
	}
	return true
}

// MemberPath converts backslash separators to slashes and returns the cleaned
// member path, or false when it would escape the extraction root.
func MemberPath(name string) (string, bool) {
	name = strings.ReplaceAll(name, `\`, "/")
	if !SafeMemberPath(name) {
		return "", false
	}
	return path.Clean(name), true
}

// SafeMemberPath reports whether an archive member path stays inside the
// extraction root.
func SafeMemberPath(name string) bool {
	if name == "" || path.IsAbs(name) || strings.HasPrefix(name, "/") {
		return false
	}
	if len(name) >= 2 && name[1] == ':' {
		return false
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}
