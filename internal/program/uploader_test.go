package program

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/c00lpeace/project-template-final/internal/indexing"
	"github.com/c00lpeace/project-template-final/internal/objectstore"
	"github.com/c00lpeace/project-template-final/internal/validator"
	"github.com/c00lpeace/project-template-final/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUploader(objects *objectstore.Memory, idx indexing.Indexer) *Uploader {
	return NewUploader(objects, idx, validator.DefaultRules(), 2)
}

func TestUploadAndUnzip_KeyLayoutAndOrder(t *testing.T) {
	objects := objectstore.NewMemory("bucket")
	u := newTestUploader(objects, &fakeIndexer{ok: true})

	names := []string{"z.csv", "a.csv", "dir/m.csv"}
	files := programFiles(t, names, map[string]string{"z.csv": goodLadder, "a.csv": goodLadder, "dir/m.csv": goodLadder})

	res, err := u.UploadAndUnzip(context.Background(), "p1", files)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"programs/p1/unzipped/a.csv",
		"programs/p1/unzipped/dir/m.csv",
		"programs/p1/unzipped/z.csv",
	}, res.UnzippedFiles)
	assert.Equal(t, "s3://bucket/programs/p1/ladder_logic.zip", res.LadderZipPath)
	assert.Equal(t, "programs/p1/unzipped/", res.UnzippedBasePath)
	assert.Equal(t, "s3://bucket/programs/p1/classification.xlsx", res.ClassificationPath)
	assert.Equal(t, "s3://bucket/programs/p1/device_comment.csv", res.DeviceCommentPath)
	assert.Equal(t, "programs/p1/classification.xlsx", res.ClassificationKey)

	paths := res.S3Paths()
	assert.Len(t, paths, 4)
	assert.Equal(t, res.LadderZipPath, paths[models.ArtifactLadderZip])

	body, err := objects.Get(context.Background(), "programs/p1/unzipped/dir/m.csv")
	require.NoError(t, err)
	assert.Equal(t, goodLadder, string(body))
}

func TestUploadAndUnzip_SkipsDirectoriesAndUnsafeMembers(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"dir/", "../evil.csv", "dir/ok.csv"} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		if !strings.HasSuffix(name, "/") {
			_, err = w.Write([]byte(goodLadder))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())

	objects := objectstore.NewMemory("bucket")
	u := newTestUploader(objects, &fakeIndexer{ok: true})
	files := goodFiles(t, 1)
	files.LadderZip.Content = buf.Bytes()

	res, err := u.UploadAndUnzip(context.Background(), "p1", files)
	require.NoError(t, err)
	assert.Equal(t, []string{"programs/p1/unzipped/dir/ok.csv"}, res.UnzippedFiles)
}

func TestUploadAndUnzip_BackslashMembers(t *testing.T) {
	objects := objectstore.NewMemory("bucket")
	u := newTestUploader(objects, &fakeIndexer{ok: true})
	names := []string{`sub\a_main.csv`, `..\evil.csv`}
	files := programFiles(t, names, map[string]string{`sub\a_main.csv`: goodLadder, `..\evil.csv`: goodLadder})

	up, err := u.UploadAndUnzip(context.Background(), "p1", files)
	require.NoError(t, err)
	assert.Equal(t, []string{"programs/p1/unzipped/sub/a_main.csv"}, up.UnzippedFiles)

	pre, err := u.PreprocessAndCreateJSON(context.Background(), "p1", up.UnzippedFiles, up.ClassificationKey, up.DeviceCommentKey)
	require.NoError(t, err)
	require.Len(t, pre.ProcessedFiles, 1)

	body, err := objects.Get(context.Background(), pre.ProcessedFiles[0].S3Key)
	require.NoError(t, err)
	var doc LadderDocument
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, "a_main", doc.LogicName)
	assert.Equal(t, "Main", doc.Classification["category"])
}

func TestUploadAndUnzip_MemberFailureKeepsEarlierUploads(t *testing.T) {
	objects := objectstore.NewMemory("bucket")
	objects.FailPut = func(key string) error {
		if strings.HasSuffix(key, "/unzipped/b.csv") {
			return errors.New("throttled")
		}
		return nil
	}
	u := newTestUploader(objects, &fakeIndexer{ok: true})
	names := []string{"a.csv", "b.csv"}
	files := programFiles(t, names, map[string]string{"a.csv": goodLadder, "b.csv": goodLadder})

	_, err := u.UploadAndUnzip(context.Background(), "p1", files)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
	assert.Equal(t, []string{"programs/p1/ladder_logic.zip", "programs/p1/unzipped/a.csv"}, objects.Keys("programs/"))
}

func uploadForPreprocess(t *testing.T, u *Uploader, names []string, members map[string]string) *UploadResult {
	t.Helper()
	res, err := u.UploadAndUnzip(context.Background(), "p1", programFiles(t, names, members))
	require.NoError(t, err)
	return res
}

func TestPreprocess_ContinuesPastFailures(t *testing.T) {
	objects := objectstore.NewMemory("bucket")
	u := newTestUploader(objects, &fakeIndexer{ok: true})
	names := []string{"a_main.csv", "b_bad.csv", "c_sub.csv", "d.txt"}
	up := uploadForPreprocess(t, u, names, map[string]string{
		"a_main.csv": goodLadder,
		"b_bad.csv":  badLadder,
		"c_sub.csv":  "step,instruction,device\n",
		"d.txt":      goodLadder,
	})

	res, err := u.PreprocessAndCreateJSON(context.Background(), "p1", up.UnzippedFiles, up.ClassificationKey, up.DeviceCommentKey)
	require.NoError(t, err)

	assert.Equal(t, models.BatchSummary{Total: 4, Success: 1, Failed: 3}, res.Summary)
	require.Len(t, res.ProcessedFiles, 1)
	pf := res.ProcessedFiles[0]
	assert.Equal(t, "json_file_0", pf.Key)
	assert.Equal(t, "processed_p1_0.json", pf.Filename)
	assert.Equal(t, "programs/p1/processed/processed_p1_0.json", pf.S3Key)
	assert.Equal(t, "s3://bucket/programs/p1/processed/processed_p1_0.json", pf.S3Path)
	assert.Equal(t, "programs/p1/unzipped/a_main.csv", pf.SourceFilePath)
	assert.Equal(t, 0, pf.SourceIndex)

	require.Len(t, res.FailedFiles, 3)
	assert.Equal(t, 1, res.FailedFiles[0].Index)
	assert.Contains(t, res.FailedFiles[0].Error, "missing columns")
	assert.Contains(t, res.FailedFiles[1].Error, "no instructions")
	assert.Contains(t, res.FailedFiles[2].Error, "unsupported ladder file type")
	assert.Equal(t, 0, res.FailedFiles[2].RetryCount)
	assert.False(t, res.FailedFiles[2].Timestamp.IsZero())
}

func TestPreprocess_AnnotatesDevicesAndClassification(t *testing.T) {
	objects := objectstore.NewMemory("bucket")
	u := newTestUploader(objects, &fakeIndexer{ok: true})
	up := uploadForPreprocess(t, u, []string{"A_MAIN.csv"}, map[string]string{
		"A_MAIN.csv": "step,instruction,device\n0,LD,x0\n1,AND,X0\n2,OUT,Y9\n",
	})

	res, err := u.PreprocessAndCreateJSON(context.Background(), "p1", up.UnzippedFiles, up.ClassificationKey, up.DeviceCommentKey)
	require.NoError(t, err)
	require.Len(t, res.ProcessedFiles, 1)

	body, err := objects.Get(context.Background(), res.ProcessedFiles[0].S3Key)
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), res.ProcessedFiles[0].FileSize)

	var doc LadderDocument
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, "p1", doc.ProgramID)
	assert.Equal(t, "A_MAIN", doc.LogicName)
	assert.Equal(t, "Main", doc.Classification["category"])
	require.Len(t, doc.Steps, 3)
	assert.Equal(t, "Start button", doc.Steps[0].DeviceComment)
	assert.Equal(t, "", doc.Steps[2].DeviceComment)
	assert.Equal(t, []DeviceRef{{Device: "x0", Comment: "Start button"}, {Device: "Y9"}}, doc.Devices)
}

func TestPreprocess_MissingReferenceTableIsFatal(t *testing.T) {
	objects := objectstore.NewMemory("bucket")
	u := newTestUploader(objects, &fakeIndexer{ok: true})

	_, err := u.PreprocessAndCreateJSON(context.Background(), "p1", []string{"programs/p1/unzipped/a.csv"},
		"programs/p1/classification.xlsx", "programs/p1/device_comment.csv")
	require.Error(t, err)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func TestRequestVectorIndexing(t *testing.T) {
	idx := &fakeIndexer{ok: true}
	u := newTestUploader(objectstore.NewMemory("bucket"), idx)

	ok, err := u.RequestVectorIndexing(context.Background(), "p1", map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, idx.calls(), 1)
	assert.Equal(t, indexing.Request{ProgramID: "p1", S3Paths: map[string]string{"k": "v"}}, idx.calls()[0])

	idx.err = indexing.ErrIndexerTimeout
	_, err = u.RequestVectorIndexing(context.Background(), "p1", nil)
	assert.ErrorIs(t, err, indexing.ErrIndexerTimeout)
}
