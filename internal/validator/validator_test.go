package validator_test

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/c00lpeace/project-template-final/internal/validator"
	"github.com/c00lpeace/project-template-final/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// --- fixtures ---

func zipOf(t *testing.T, members map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range members {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func xlsxOf(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func validFiles(t *testing.T) models.ProgramFiles {
	t.Helper()
	return models.ProgramFiles{
		LadderZip: models.ProgramFile{
			Filename: "ladder.zip",
			Content: zipOf(t, map[string]string{
				"MAIN.csv":     "step,instruction,device\n0,LD,X0\n",
				"sub/CONV.csv": "step,instruction,device\n0,OUT,Y0\n",
			}),
		},
		ClassificationXLSX: models.ProgramFile{
			Filename: "classification.xlsx",
			Content:  xlsxOf(t, [][]any{{"logic_name", "category"}, {"MAIN", "Main"}, {"CONV", "Conveyor"}}),
		},
		DeviceCommentCSV: models.ProgramFile{
			Filename: "device_comment.csv",
			Content:  []byte("device,comment\nX0,Start\nY0,Motor\n"),
		},
	}
}

func newValidator() *validator.Validator {
	return validator.New(validator.DefaultRules())
}

// --- tests ---

func TestValidateFiles_Valid(t *testing.T) {
	res := newValidator().ValidateFiles(validFiles(t))

	assert.True(t, res.IsValid, "errors: %v", res.Errors)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, []string{"ladder.zip", "classification.xlsx", "device_comment.csv"}, res.CheckedFiles)
}

func TestValidateFiles_EmptyInputs(t *testing.T) {
	res := newValidator().ValidateFiles(models.ProgramFiles{
		LadderZip:          models.ProgramFile{Filename: "ladder.zip"},
		ClassificationXLSX: models.ProgramFile{Filename: "c.xlsx"},
		DeviceCommentCSV:   models.ProgramFile{Filename: "d.csv"},
	})

	assert.False(t, res.IsValid)
	assert.Len(t, res.Errors, 3)
}

func TestValidateFiles_WrongExtension(t *testing.T) {
	files := validFiles(t)
	files.LadderZip.Filename = "ladder.rar"

	res := newValidator().ValidateFiles(files)
	assert.False(t, res.IsValid)
	assert.Contains(t, res.Errors[0], ".zip")
}

func TestValidateFiles_CorruptZip(t *testing.T) {
	files := validFiles(t)
	files.LadderZip.Content = []byte("PK not really")

	res := newValidator().ValidateFiles(files)
	assert.False(t, res.IsValid)
	assert.Contains(t, res.Errors[0], "not a readable zip")
}

func TestValidateFiles_UnsafeMemberPath(t *testing.T) {
	files := validFiles(t)
	files.LadderZip.Content = zipOf(t, map[string]string{
		"MAIN.csv":        "step,instruction,device\n",
		"../../etc/x.csv": "step,instruction,device\n",
	})

	res := newValidator().ValidateFiles(files)
	assert.False(t, res.IsValid)
	assert.Contains(t, strings.Join(res.Errors, "\n"), "unsafe member path")
}

func TestValidateFiles_TooManyEntries(t *testing.T) {
	rules := validator.DefaultRules()
	rules.MaxArchiveEntries = 1

	res := validator.New(rules).ValidateFiles(validFiles(t))
	assert.False(t, res.IsValid)
	assert.Contains(t, strings.Join(res.Errors, "\n"), "exceeds the limit")
}

func TestValidateFiles_Warnings(t *testing.T) {
	files := validFiles(t)
	files.LadderZip.Content = zipOf(t, map[string]string{
		"MAIN.csv":   "step,instruction,device\n",
		"README.txt": "notes",
	})
	files.DeviceCommentCSV.Content = []byte("device,comment\nX0,Start\nx0,Again\n")

	res := newValidator().ValidateFiles(files)
	require.True(t, res.IsValid, "errors: %v", res.Errors)

	joined := strings.Join(res.Warnings, "\n")
	assert.Contains(t, joined, "unsupported extension")
	assert.Contains(t, joined, `logic "CONV" has no matching file`)
	assert.Contains(t, joined, "duplicate device X0")
}

func TestValidateFiles_MissingColumns(t *testing.T) {
	files := validFiles(t)
	files.ClassificationXLSX.Content = xlsxOf(t, [][]any{{"name"}, {"MAIN"}})
	files.DeviceCommentCSV.Content = []byte("device,text\nX0,Start\n")

	res := newValidator().ValidateFiles(files)
	assert.False(t, res.IsValid)
	joined := strings.Join(res.Errors, "\n")
	assert.Contains(t, joined, "classification_xlsx: missing required columns logic_name")
	assert.Contains(t, joined, "device_comment_csv: missing required columns comment")
}

func TestValidateFiles_RaggedCSV(t *testing.T) {
	files := validFiles(t)
	files.DeviceCommentCSV.Content = []byte("device,comment\nX0\n")

	res := newValidator().ValidateFiles(files)
	assert.False(t, res.IsValid)
}

func TestSafeMemberPath(t *testing.T) {
	cases := map[string]bool{
		"MAIN.csv":       true,
		"a/b/c.csv":      true,
		"/etc/passwd":    false,
		"../x.csv":       false,
		"a/../../x.csv":  false,
		"C:/windows.csv": false,
		"":               false,
	}
	for name, want := range cases {
		assert.Equal(t, want, validator.SafeMemberPath(name), name)
	}
}

func TestMemberPath(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"MAIN.csv", "MAIN.csv", true},
		{`sub\CONV.csv`, "sub/CONV.csv", true},
		{"a/./b.csv", "a/b.csv", true},
		{`..\x.csv`, "", false},
		{`C:\x.csv`, "", false},
	}
	for _, tc := range cases {
		got, ok := validator.MemberPath(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestValidateFiles_BackslashMembersMatchClassification(t *testing.T) {
	files := validFiles(t)
	files.LadderZip.Content = zipOf(t, map[string]string{
		"MAIN.csv":     "step,instruction,device\n0,LD,X0\n",
		`sub\CONV.csv`: "step,instruction,device\n0,OUT,Y0\n",
	})

	res := newValidator().ValidateFiles(files)

	assert.True(t, res.IsValid, "errors: %v", res.Errors)
	assert.Empty(t, res.Warnings)
}

func TestLoadRules(t *testing.T) {
	rules, err := validator.LoadRules("")
	require.NoError(t, err)
	assert.Equal(t, validator.DefaultRules(), rules)

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_archive_entries: 10\nladder_extensions: [\".csv\", \".txt\"]\n"), 0o600))

	rules, err = validator.LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, 10, rules.MaxArchiveEntries)
	assert.Equal(t, []string{".csv", ".txt"}, rules.LadderExtensions)
	assert.Equal(t, []string{"device", "comment"}, rules.DeviceCommentRequiredColumns)

	require.NoError(t, os.WriteFile(path, []byte("max_archive_entries: -1\n"), 0o600))
	_, err = validator.LoadRules(path)
	assert.Error(t, err)

	_, err = validator.LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
