package program

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/c00lpeace/project-template-final/internal/cache"
	"github.com/c00lpeace/project-template-final/internal/config"
	"github.com/c00lpeace/project-template-final/internal/indexing"
	"github.com/c00lpeace/project-template-final/internal/objectstore"
	"github.com/c00lpeace/project-template-final/internal/store/storetest"
	"github.com/c00lpeace/project-template-final/internal/validator"
	"github.com/c00lpeace/project-template-final/pkg/models"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// --- mocks ---

type mockCache struct {
	mu       sync.Mutex
	statuses map[string]string
	locks    map[string]bool
	lockErr  error
}

func newMockCache() *mockCache {
	return &mockCache{statuses: make(map[string]string), locks: make(map[string]bool)}
}

func (c *mockCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *mockCache) Get(_ context.Context, _ string) ([]byte, bool, error)           { return nil, false, nil }
func (c *mockCache) Delete(_ context.Context, _ string) error                        { return nil }
func (c *mockCache) Ping(_ context.Context) error                                    { return nil }
func (c *mockCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 0, nil
}

func (c *mockCache) SetProgramStatus(_ context.Context, programID, status string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[programID] = status
	return nil
}

func (c *mockCache) GetProgramStatus(_ context.Context, programID string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.statuses[programID]
	return s, ok, nil
}

func (c *mockCache) AcquireLock(_ context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lockErr != nil {
		return nil, c.lockErr
	}
	if c.locks[key] {
		return nil, cache.ErrLockHeld
	}
	c.locks[key] = true
	return func(context.Context) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.locks, key)
		return nil
	}, nil
}

func (c *mockCache) status(programID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statuses[programID]
}

func (c *mockCache) locked(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locks[key]
}

type fakeIndexer struct {
	mu       sync.Mutex
	ok       bool
	err      error
	panicMsg string
	release  chan struct{}
	requests []indexing.Request
}

func (f *fakeIndexer) Index(_ context.Context, req indexing.Request) (bool, error) {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.ok, f.err
}

func (f *fakeIndexer) calls() []indexing.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]indexing.Request(nil), f.requests...)
}

var _ cache.Cache = (*mockCache)(nil)

// --- fixtures ---

const (
	goodLadder = "step,instruction,device\n0,LD,X0\n1,OUT,Y0\n"
	badLadder  = "foo,bar\n1,2\n"
)

func zipOf(t *testing.T, names []string, members map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(members[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func xlsxOf(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

// programFiles builds a submission whose archive holds members in the given
// order with the given bodies.
func programFiles(t *testing.T, names []string, members map[string]string) models.ProgramFiles {
	t.Helper()
	return models.ProgramFiles{
		LadderZip: models.ProgramFile{Filename: "ladder.zip", Content: zipOf(t, names, members)},
		ClassificationXLSX: models.ProgramFile{
			Filename: "classification.xlsx",
			Content:  xlsxOf(t, [][]any{{"logic_name", "category"}, {"a_main", "Main"}, {"c_sub", "Sub"}}),
		},
		DeviceCommentCSV: models.ProgramFile{
			Filename: "device_comment.csv",
			Content:  []byte("device,comment\nX0,Start button\nY0,Motor\n"),
		},
	}
}

// goodFiles returns n valid ladder members named file_000.csv and up.
func goodFiles(t *testing.T, n int) models.ProgramFiles {
	t.Helper()
	names := make([]string, n)
	members := make(map[string]string, n)
	for i := range n {
		names[i] = fmt.Sprintf("file_%03d.csv", i)
		members[names[i]] = goodLadder
	}
	return programFiles(t, names, members)
}

// --- harness ---

type harness struct {
	svc     *Service
	store   *storetest.Memory
	objects *objectstore.Memory
	cache   *mockCache
	indexer *fakeIndexer
}

func newHarness(t *testing.T, chunkSize int) *harness {
	t.Helper()
	h := &harness{
		store:   storetest.New(),
		objects: objectstore.NewMemory("plc-programs"),
		cache:   newMockCache(),
		indexer: &fakeIndexer{ok: true},
	}
	rules := validator.DefaultRules()
	up := NewUploader(h.objects, h.indexer, rules, chunkSize)

	var mu sync.Mutex
	n := 0
	clock := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
	h.svc = NewService(h.store, h.cache, validator.New(rules), up,
		config.PipelineConfig{CommitChunkSize: chunkSize, MaxConcurrent: 2, LockTTL: time.Minute, StatusTTL: time.Hour},
		WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("prog-%d", n)
		}),
		WithClock(func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			clock = clock.Add(time.Second)
			return clock
		}),
	)
	return h
}

// register submits files as user and waits for the pipeline to finish.
func (h *harness) register(t *testing.T, files models.ProgramFiles) string {
	t.Helper()
	res, err := h.svc.Register(context.Background(), RegisterRequest{
		Title:  "Line A",
		UserID: "user",
		Files:  files,
	})
	require.NoError(t, err)
	require.True(t, res.Accepted(), "validation errors: %v", res.Validation.Errors)
	h.wait(t)
	return res.ProgramID
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, h.svc.Wait(ctx))
}

func (h *harness) failuresOf(programID, failureType string) []models.ProcessingFailure {
	var out []models.ProcessingFailure
	for _, f := range h.store.Failures() {
		if f.ProgramID == programID && f.FailureType == failureType {
			out = append(out, f)
		}
	}
	return out
}

func (h *harness) onlyJob(t *testing.T) models.ProcessingJob {
	t.Helper()
	jobs := h.store.Jobs()
	require.Len(t, jobs, 1)
	for _, j := range jobs {
		return j
	}
	return models.ProcessingJob{}
}
