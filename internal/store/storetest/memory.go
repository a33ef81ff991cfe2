// Package storetest provides an in-memory store.Store for tests. It keeps
// transaction semantics: writes made through a Tx are invisible until Commit,
// and a failed Savepoint discards only its own writes.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/c00lpeace/project-template-final/internal/store"
	"github.com/c00lpeace/project-template-final/pkg/models"
	"github.com/google/uuid"
)

// ErrTxDone is returned when a finished Tx is used again.
var ErrTxDone = errors.New("storetest: transaction already finished")

// Hooks inject failures. Set them before handing the Memory to the code
// under test.
type Hooks struct {
	Begin               func() error
	Commit              func(rec CommitRecord) error
	CreateDocument      func(d *models.Document) error
	CreateFailure       func(f *models.ProcessingFailure) error
	UpdateProgramStatus func(programID, status string) error
	UpdateFailureStatus func(failureID, status string) error
}

// CommitRecord counts the rows a committed Tx wrote, per table.
type CommitRecord struct {
	Programs  int
	Documents int
	Failures  int
	Jobs      int
}

// Memory implements store.Store in memory.
type Memory struct {
	Hooks Hooks

	mu      sync.Mutex
	base    *state
	commits []CommitRecord
	pingErr error
}

// New returns an empty Memory store.
func New() *Memory {
	return &Memory{base: newState()}
}

// SetPingError makes Ping fail with err.
func (m *Memory) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

func (m *Memory) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}

func (m *Memory) Begin(_ context.Context) (store.Tx, error) {
	if m.Hooks.Begin != nil {
		if err := m.Hooks.Begin(); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	snap := m.base.clone()
	m.mu.Unlock()
	return &memTx{m: m, st: snap, dirty: newDirtySet()}, nil
}

// --- inspection ---

// Program returns a copy of the committed program.
func (m *Memory) Program(id string) (models.Program, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.base.programs[id]
	if !ok {
		return models.Program{}, false
	}
	return cloneProgram(p), true
}

// Documents returns committed documents in insertion order.
func (m *Memory) Documents() []models.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Document, 0, len(m.base.docOrder))
	for _, id := range m.base.docOrder {
		out = append(out, m.base.documents[id])
	}
	return out
}

// Failures returns committed failures in insertion order.
func (m *Memory) Failures() []models.ProcessingFailure {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ProcessingFailure, 0, len(m.base.failureOrder))
	for _, id := range m.base.failureOrder {
		out = append(out, cloneFailure(m.base.failures[id]))
	}
	return out
}

// Jobs returns committed jobs keyed by job id.
func (m *Memory) Jobs() map[string]models.ProcessingJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.ProcessingJob, len(m.base.jobs))
	for id, j := range m.base.jobs {
		out[id] = cloneJob(j)
	}
	return out
}

// Commits returns the log of committed transactions.
func (m *Memory) Commits() []CommitRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.commits)
}

// DocumentCommits counts committed transactions that wrote documents.
func (m *Memory) DocumentCommits() int {
	n := 0
	for _, c := range m.Commits() {
		if c.Documents > 0 {
			n++
		}
	}
	return n
}

// PutPLC stores a PLC row directly.
func (m *Memory) PutPLC(p models.PLC) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.base.plcs[p.ID] = p
}

// --- Repository on the committed state ---

func (m *Memory) repo() *repo {
	return &repo{hooks: &m.Hooks, st: m.base, lock: &m.mu}
}

func (m *Memory) CreateProgram(ctx context.Context, p *models.Program) error {
	return m.repo().CreateProgram(ctx, p)
}

func (m *Memory) GetProgram(ctx context.Context, programID string) (*models.Program, error) {
	return m.repo().GetProgram(ctx, programID)
}

func (m *Memory) ListProgramsByUser(ctx context.Context, userID string) ([]*models.Program, error) {
	return m.repo().ListProgramsByUser(ctx, userID)
}

func (m *Memory) UpdateProgramStatus(ctx context.Context, programID, status string, opts ...store.ProgramUpdateOption) error {
	return m.repo().UpdateProgramStatus(ctx, programID, status, opts...)
}

func (m *Memory) UpdateProgramS3Paths(ctx context.Context, programID string, paths map[string]string) error {
	return m.repo().UpdateProgramS3Paths(ctx, programID, paths)
}

func (m *Memory) UpdateProgramMetadata(ctx context.Context, programID string, meta models.ProgramMetadata) error {
	return m.repo().UpdateProgramMetadata(ctx, programID, meta)
}

func (m *Memory) CreateDocument(ctx context.Context, d *models.Document) error {
	return m.repo().CreateDocument(ctx, d)
}

func (m *Memory) CreateFailure(ctx context.Context, f *models.ProcessingFailure) error {
	return m.repo().CreateFailure(ctx, f)
}

func (m *Memory) GetFailure(ctx context.Context, failureID string) (*models.ProcessingFailure, error) {
	return m.repo().GetFailure(ctx, failureID)
}

func (m *Memory) ListFailures(ctx context.Context, filter store.FailureFilter) ([]*models.ProcessingFailure, error) {
	return m.repo().ListFailures(ctx, filter)
}

func (m *Memory) IncrementRetryCount(ctx context.Context, failureID string) error {
	return m.repo().IncrementRetryCount(ctx, failureID)
}

func (m *Memory) UpdateFailureStatus(ctx context.Context, failureID, status string, opts ...store.FailureUpdateOption) error {
	return m.repo().UpdateFailureStatus(ctx, failureID, status, opts...)
}

func (m *Memory) CreateJob(ctx context.Context, job *models.ProcessingJob) error {
	return m.repo().CreateJob(ctx, job)
}

func (m *Memory) GetJob(ctx context.Context, jobID string) (*models.ProcessingJob, error) {
	return m.repo().GetJob(ctx, jobID)
}

func (m *Memory) UpdateJobStatus(ctx context.Context, jobID, status string, opts ...store.JobUpdateOption) error {
	return m.repo().UpdateJobStatus(ctx, jobID, status, opts...)
}

func (m *Memory) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	return m.repo().GetAPIKeyByPrefix(ctx, prefix)
}

func (m *Memory) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	return m.repo().UpdateAPIKeyLastUsed(ctx, id)
}

func (m *Memory) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	return m.repo().CreateAPIKey(ctx, key)
}

func (m *Memory) GetPLC(ctx context.Context, id string) (*models.PLC, error) {
	return m.repo().GetPLC(ctx, id)
}

func (m *Memory) GetProgramIDByPLC(ctx context.Context, plcID string) (string, error) {
	return m.repo().GetProgramIDByPLC(ctx, plcID)
}

func (m *Memory) ListPLCTreeRows(ctx context.Context) ([]models.PLCTreeRow, error) {
	return m.repo().ListPLCTreeRows(ctx)
}

// --- transactions ---

type memTx struct {
	m     *Memory
	st    *state
	dirty *dirtySet
	done  bool
}

func (t *memTx) current() *repo {
	return &repo{hooks: &t.m.Hooks, st: t.st, dirty: t.dirty, done: &t.done}
}

func (t *memTx) Savepoint(ctx context.Context, fn func(store.Repository) error) error {
	if t.done {
		return ErrTxDone
	}
	sp := &repo{hooks: &t.m.Hooks, st: t.st.clone(), dirty: newDirtySet(), done: &t.done}
	if err := fn(sp); err != nil {
		return err
	}
	t.st = sp.st
	t.dirty.merge(sp.dirty)
	return nil
}

func (t *memTx) Commit(_ context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	rec := t.dirty.record()
	if t.m.Hooks.Commit != nil {
		if err := t.m.Hooks.Commit(rec); err != nil {
			return err
		}
	}

	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	base := t.m.base
	for id := range t.dirty.programs {
		base.programs[id] = t.st.programs[id]
	}
	for _, id := range t.dirty.documentOrder {
		if _, exists := base.documents[id]; !exists {
			base.docOrder = append(base.docOrder, id)
		}
		base.documents[id] = t.st.documents[id]
	}
	for _, id := range t.dirty.failureOrder {
		if _, exists := base.failures[id]; !exists {
			base.failureOrder = append(base.failureOrder, id)
		}
		base.failures[id] = t.st.failures[id]
	}
	for id := range t.dirty.jobs {
		base.jobs[id] = t.st.jobs[id]
	}
	t.m.commits = append(t.m.commits, rec)
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	t.done = true
	return nil
}

// Queries on memTx go to the live tx state, which Savepoint may swap.

func (t *memTx) CreateProgram(ctx context.Context, p *models.Program) error {
	return t.current().CreateProgram(ctx, p)
}

func (t *memTx) GetProgram(ctx context.Context, programID string) (*models.Program, error) {
	return t.current().GetProgram(ctx, programID)
}

func (t *memTx) ListProgramsByUser(ctx context.Context, userID string) ([]*models.Program, error) {
	return t.current().ListProgramsByUser(ctx, userID)
}

func (t *memTx) UpdateProgramStatus(ctx context.Context, programID, status string, opts ...store.ProgramUpdateOption) error {
	return t.current().UpdateProgramStatus(ctx, programID, status, opts...)
}

func (t *memTx) UpdateProgramS3Paths(ctx context.Context, programID string, paths map[string]string) error {
	return t.current().UpdateProgramS3Paths(ctx, programID, paths)
}

func (t *memTx) UpdateProgramMetadata(ctx context.Context, programID string, meta models.ProgramMetadata) error {
	return t.current().UpdateProgramMetadata(ctx, programID, meta)
}

func (t *memTx) CreateDocument(ctx context.Context, d *models.Document) error {
	return t.current().CreateDocument(ctx, d)
}

func (t *memTx) CreateFailure(ctx context.Context, f *models.ProcessingFailure) error {
	return t.current().CreateFailure(ctx, f)
}

func (t *memTx) GetFailure(ctx context.Context, failureID string) (*models.ProcessingFailure, error) {
	return t.current().GetFailure(ctx, failureID)
}

func (t *memTx) ListFailures(ctx context.Context, filter store.FailureFilter) ([]*models.ProcessingFailure, error) {
	return t.current().ListFailures(ctx, filter)
}

func (t *memTx) IncrementRetryCount(ctx context.Context, failureID string) error {
	return t.current().IncrementRetryCount(ctx, failureID)
}

func (t *memTx) UpdateFailureStatus(ctx context.Context, failureID, status string, opts ...store.FailureUpdateOption) error {
	return t.current().UpdateFailureStatus(ctx, failureID, status, opts...)
}

func (t *memTx) CreateJob(ctx context.Context, job *models.ProcessingJob) error {
	return t.current().CreateJob(ctx, job)
}

func (t *memTx) GetJob(ctx context.Context, jobID string) (*models.ProcessingJob, error) {
	return t.current().GetJob(ctx, jobID)
}

func (t *memTx) UpdateJobStatus(ctx context.Context, jobID, status string, opts ...store.JobUpdateOption) error {
	return t.current().UpdateJobStatus(ctx, jobID, status, opts...)
}

func (t *memTx) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	return t.current().GetAPIKeyByPrefix(ctx, prefix)
}

func (t *memTx) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	return t.current().UpdateAPIKeyLastUsed(ctx, id)
}

func (t *memTx) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	return t.current().CreateAPIKey(ctx, key)
}

func (t *memTx) GetPLC(ctx context.Context, id string) (*models.PLC, error) {
	return t.current().GetPLC(ctx, id)
}

func (t *memTx) GetProgramIDByPLC(ctx context.Context, plcID string) (string, error) {
	return t.current().GetProgramIDByPLC(ctx, plcID)
}

func (t *memTx) ListPLCTreeRows(ctx context.Context) ([]models.PLCTreeRow, error) {
	return t.current().ListPLCTreeRows(ctx)
}

// --- state ---

type state struct {
	programs     map[string]models.Program
	documents    map[string]models.Document
	docOrder     []string
	failures     map[string]models.ProcessingFailure
	failureOrder []string
	jobs         map[string]models.ProcessingJob
	apiKeys      map[uuid.UUID]models.APIKey
	plcs         map[string]models.PLC
}

func newState() *state {
	return &state{
		programs:  make(map[string]models.Program),
		documents: make(map[string]models.Document),
		failures:  make(map[string]models.ProcessingFailure),
		jobs:      make(map[string]models.ProcessingJob),
		apiKeys:   make(map[uuid.UUID]models.APIKey),
		plcs:      make(map[string]models.PLC),
	}
}

// clone copies the maps. Values are replaced, never mutated in place, so a
// shallow copy of each map is enough.
func (s *state) clone() *state {
	return &state{
		programs:     maps.Clone(s.programs),
		documents:    maps.Clone(s.documents),
		docOrder:     slices.Clone(s.docOrder),
		failures:     maps.Clone(s.failures),
		failureOrder: slices.Clone(s.failureOrder),
		jobs:         maps.Clone(s.jobs),
		apiKeys:      maps.Clone(s.apiKeys),
		plcs:         maps.Clone(s.plcs),
	}
}

type dirtySet struct {
	programs      map[string]struct{}
	documentOrder []string
	failureOrder  []string
	failures      map[string]struct{}
	jobs          map[string]struct{}
}

func newDirtySet() *dirtySet {
	return &dirtySet{
		programs: make(map[string]struct{}),
		failures: make(map[string]struct{}),
		jobs:     make(map[string]struct{}),
	}
}

func (d *dirtySet) markFailure(id string) {
	if _, ok := d.failures[id]; ok {
		return
	}
	d.failures[id] = struct{}{}
	d.failureOrder = append(d.failureOrder, id)
}

func (d *dirtySet) merge(o *dirtySet) {
	maps.Copy(d.programs, o.programs)
	d.documentOrder = append(d.documentOrder, o.documentOrder...)
	for _, id := range o.failureOrder {
		d.markFailure(id)
	}
	maps.Copy(d.jobs, o.jobs)
}

func (d *dirtySet) record() CommitRecord {
	return CommitRecord{
		Programs:  len(d.programs),
		Documents: len(d.documentOrder),
		Failures:  len(d.failures),
		Jobs:      len(d.jobs),
	}
}

// --- repo ---

// repo runs queries against one state. lock is set for the committed state
// only; dirty is set inside a transaction only.
type repo struct {
	hooks *Hooks
	st    *state
	lock  *sync.Mutex
	dirty *dirtySet
	done  *bool
}

func (r *repo) enter() (func(), error) {
	if r.done != nil && *r.done {
		return nil, ErrTxDone
	}
	if r.lock == nil {
		return func() {}, nil
	}
	r.lock.Lock()
	return r.lock.Unlock, nil
}

func (r *repo) CreateProgram(_ context.Context, p *models.Program) error {
	unlock, err := r.enter()
	if err != nil {
		return err
	}
	defer unlock()
	if _, ok := r.st.programs[p.ProgramID]; ok {
		return store.ErrDuplicateKey
	}
	r.st.programs[p.ProgramID] = cloneProgram(*p)
	if r.dirty != nil {
		r.dirty.programs[p.ProgramID] = struct{}{}
	}
	return nil
}

func (r *repo) GetProgram(_ context.Context, programID string) (*models.Program, error) {
	unlock, err := r.enter()
	if err != nil {
		return nil, err
	}
	defer unlock()
	p, ok := r.st.programs[programID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneProgram(p)
	return &out, nil
}

func (r *repo) ListProgramsByUser(_ context.Context, userID string) ([]*models.Program, error) {
	unlock, err := r.enter()
	if err != nil {
		return nil, err
	}
	defer unlock()
	programs := []*models.Program{}
	for _, p := range r.st.programs {
		if p.UserID == userID {
			c := cloneProgram(p)
			programs = append(programs, &c)
		}
	}
	sort.SliceStable(programs, func(i, j int) bool {
		return programs[i].CreatedAt.After(programs[j].CreatedAt)
	})
	return programs, nil
}

func (r *repo) UpdateProgramStatus(_ context.Context, programID, status string, opts ...store.ProgramUpdateOption) error {
	if r.hooks.UpdateProgramStatus != nil {
		if err := r.hooks.UpdateProgramStatus(programID, status); err != nil {
			return err
		}
	}
	unlock, err := r.enter()
	if err != nil {
		return err
	}
	defer unlock()
	p, ok := r.st.programs[programID]
	if !ok {
		return store.ErrNotFound
	}
	if err := store.CheckProgramTransition(p.Status, status); err != nil {
		return err
	}
	errMsg, vectorIndexed := store.ApplyProgramOptions(opts)

	p = cloneProgram(p)
	now := time.Now().UTC()
	p.Status = status
	p.UpdatedAt = now
	if p.IsTerminal() {
		p.ProcessedAt = &now
	}
	if errMsg != nil {
		p.ErrorMessage = errMsg
	}
	if vectorIndexed != nil {
		p.VectorIndexed = *vectorIndexed
	}
	r.st.programs[programID] = p
	if r.dirty != nil {
		r.dirty.programs[programID] = struct{}{}
	}
	return nil
}

func (r *repo) UpdateProgramS3Paths(_ context.Context, programID string, paths map[string]string) error {
	unlock, err := r.enter()
	if err != nil {
		return err
	}
	defer unlock()
	p, ok := r.st.programs[programID]
	if !ok {
		return store.ErrNotFound
	}
	p = cloneProgram(p)
	p.S3Paths = maps.Clone(paths)
	p.UpdatedAt = time.Now().UTC()
	r.st.programs[programID] = p
	if r.dirty != nil {
		r.dirty.programs[programID] = struct{}{}
	}
	return nil
}

func (r *repo) UpdateProgramMetadata(_ context.Context, programID string, meta models.ProgramMetadata) error {
	unlock, err := r.enter()
	if err != nil {
		return err
	}
	defer unlock()
	p, ok := r.st.programs[programID]
	if !ok {
		return store.ErrNotFound
	}
	p = cloneProgram(p)
	p.Metadata = cloneMetadata(meta)
	p.UpdatedAt = time.Now().UTC()
	r.st.programs[programID] = p
	if r.dirty != nil {
		r.dirty.programs[programID] = struct{}{}
	}
	return nil
}

func (r *repo) CreateDocument(_ context.Context, d *models.Document) error {
	if r.hooks.CreateDocument != nil {
		if err := r.hooks.CreateDocument(d); err != nil {
			return err
		}
	}
	unlock, err := r.enter()
	if err != nil {
		return err
	}
	defer unlock()
	if _, ok := r.st.documents[d.DocumentID]; ok {
		return store.ErrDuplicateKey
	}
	r.st.documents[d.DocumentID] = *d
	r.st.docOrder = append(r.st.docOrder, d.DocumentID)
	if r.dirty != nil {
		r.dirty.documentOrder = append(r.dirty.documentOrder, d.DocumentID)
	}
	return nil
}

func (r *repo) CreateFailure(_ context.Context, f *models.ProcessingFailure) error {
	if r.hooks.CreateFailure != nil {
		if err := r.hooks.CreateFailure(f); err != nil {
			return err
		}
	}
	unlock, err := r.enter()
	if err != nil {
		return err
	}
	defer unlock()
	if _, ok := r.st.failures[f.FailureID]; ok {
		return store.ErrDuplicateKey
	}
	if _, ok := r.st.programs[f.ProgramID]; !ok {
		return store.ErrNotFound
	}
	if f.MaxRetryCount == 0 {
		f.MaxRetryCount = models.DefaultMaxRetry
	}
	if f.Status == "" {
		f.Status = models.FailureStatusPending
	}
	r.st.failures[f.FailureID] = cloneFailure(*f)
	r.st.failureOrder = append(r.st.failureOrder, f.FailureID)
	if r.dirty != nil {
		r.dirty.markFailure(f.FailureID)
	}
	return nil
}

func (r *repo) GetFailure(_ context.Context, failureID string) (*models.ProcessingFailure, error) {
	unlock, err := r.enter()
	if err != nil {
		return nil, err
	}
	defer unlock()
	f, ok := r.st.failures[failureID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneFailure(f)
	return &out, nil
}

func (r *repo) ListFailures(_ context.Context, filter store.FailureFilter) ([]*models.ProcessingFailure, error) {
	unlock, err := r.enter()
	if err != nil {
		return nil, err
	}
	defer unlock()
	failures := []*models.ProcessingFailure{}
	for _, id := range r.st.failureOrder {
		f := r.st.failures[id]
		if filter.ProgramID != "" && f.ProgramID != filter.ProgramID {
			continue
		}
		if len(filter.FailureTypes) > 0 && !slices.Contains(filter.FailureTypes, f.FailureType) {
			continue
		}
		if filter.Status != "" && f.Status != filter.Status {
			continue
		}
		c := cloneFailure(f)
		failures = append(failures, &c)
	}
	return failures, nil
}

func (r *repo) IncrementRetryCount(_ context.Context, failureID string) error {
	unlock, err := r.enter()
	if err != nil {
		return err
	}
	defer unlock()
	f, ok := r.st.failures[failureID]
	if !ok {
		return store.ErrNotFound
	}
	f = cloneFailure(f)
	now := time.Now().UTC()
	f.RetryCount++
	f.LastRetryAt = &now
	f.UpdatedAt = now
	r.st.failures[failureID] = f
	if r.dirty != nil {
		r.dirty.markFailure(failureID)
	}
	return nil
}

func (r *repo) UpdateFailureStatus(_ context.Context, failureID, status string, opts ...store.FailureUpdateOption) error {
	if r.hooks.UpdateFailureStatus != nil {
		if err := r.hooks.UpdateFailureStatus(failureID, status); err != nil {
			return err
		}
	}
	unlock, err := r.enter()
	if err != nil {
		return err
	}
	defer unlock()
	f, ok := r.st.failures[failureID]
	if !ok {
		return store.ErrNotFound
	}
	if err := store.CheckFailureTransition(f.Status, status); err != nil {
		return err
	}
	errMsg, resolvedBy := store.ApplyFailureOptions(opts)

	f = cloneFailure(f)
	now := time.Now().UTC()
	f.Status = status
	f.UpdatedAt = now
	if status == models.FailureStatusResolved {
		f.ResolvedAt = &now
	}
	if resolvedBy != nil {
		f.ResolvedBy = resolvedBy
	}
	if errMsg != nil {
		f.ErrorMessage = *errMsg
	}
	r.st.failures[failureID] = f
	if r.dirty != nil {
		r.dirty.markFailure(failureID)
	}
	return nil
}

func (r *repo) CreateJob(_ context.Context, job *models.ProcessingJob) error {
	unlock, err := r.enter()
	if err != nil {
		return err
	}
	defer unlock()
	if _, ok := r.st.jobs[job.JobID]; ok {
		return store.ErrDuplicateKey
	}
	r.st.jobs[job.JobID] = cloneJob(*job)
	if r.dirty != nil {
		r.dirty.jobs[job.JobID] = struct{}{}
	}
	return nil
}

func (r *repo) GetJob(_ context.Context, jobID string) (*models.ProcessingJob, error) {
	unlock, err := r.enter()
	if err != nil {
		return nil, err
	}
	defer unlock()
	j, ok := r.st.jobs[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneJob(j)
	return &out, nil
}

func (r *repo) UpdateJobStatus(_ context.Context, jobID, status string, opts ...store.JobUpdateOption) error {
	unlock, err := r.enter()
	if err != nil {
		return err
	}
	defer unlock()
	j, ok := r.st.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	if err := store.CheckJobTransition(j.Status, status); err != nil {
		return err
	}
	upd := store.ApplyJobOptions(opts)

	j = cloneJob(j)
	now := time.Now().UTC()
	j.Status = status
	j.UpdatedAt = now
	if status == models.JobStatusRunning {
		j.StartedAt = &now
	}
	if status == models.JobStatusCompleted || status == models.JobStatusFailed {
		j.CompletedAt = &now
	}
	if upd.ErrorMessage != nil {
		j.ErrorMessage = upd.ErrorMessage
	}
	if upd.ResultData != nil {
		j.ResultData = maps.Clone(upd.ResultData)
	}
	if upd.CompletedSteps != nil {
		j.CompletedSteps = *upd.CompletedSteps
	}
	if upd.CurrentStep != nil {
		j.CurrentStep = upd.CurrentStep
	}
	r.st.jobs[jobID] = j
	if r.dirty != nil {
		r.dirty.jobs[jobID] = struct{}{}
	}
	return nil
}

func (r *repo) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	unlock, err := r.enter()
	if err != nil {
		return nil, err
	}
	defer unlock()
	var keys []*models.APIKey
	for _, k := range r.st.apiKeys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			c := k
			keys = append(keys, &c)
		}
	}
	return keys, nil
}

func (r *repo) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	unlock, err := r.enter()
	if err != nil {
		return err
	}
	defer unlock()
	k, ok := r.st.apiKeys[id]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	k.LastUsedAt = &now
	r.st.apiKeys[id] = k
	return nil
}

func (r *repo) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	unlock, err := r.enter()
	if err != nil {
		return err
	}
	defer unlock()
	if _, ok := r.st.apiKeys[key.ID]; ok {
		return store.ErrDuplicateKey
	}
	r.st.apiKeys[key.ID] = *key
	return nil
}

func (r *repo) GetPLC(_ context.Context, id string) (*models.PLC, error) {
	unlock, err := r.enter()
	if err != nil {
		return nil, err
	}
	defer unlock()
	p, ok := r.st.plcs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (r *repo) GetProgramIDByPLC(_ context.Context, plcID string) (string, error) {
	unlock, err := r.enter()
	if err != nil {
		return "", err
	}
	defer unlock()
	for _, p := range r.st.plcs {
		if p.PLCID != plcID || !p.IsActive {
			continue
		}
		if p.ProgramID == nil {
			return "", nil
		}
		return *p.ProgramID, nil
	}
	return "", store.ErrNotFound
}

func (r *repo) ListPLCTreeRows(_ context.Context) ([]models.PLCTreeRow, error) {
	unlock, err := r.enter()
	if err != nil {
		return nil, err
	}
	defer unlock()
	rows := []models.PLCTreeRow{}
	for _, p := range r.st.plcs {
		if !p.IsActive {
			continue
		}
		rows = append(rows, models.PLCTreeRow{
			PlantName:   p.Plant,
			ProcessName: p.Process,
			LineName:    p.Line,
			EqGrpName:   p.EquipmentGroup,
			Unit:        p.Unit,
			PLCID:       p.PLCID,
			CreateDT:    p.CreateDT,
			CreateUser:  p.CreateUser,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].PLCID < rows[j].PLCID })
	return rows, nil
}

// --- copies ---

func cloneProgram(p models.Program) models.Program {
	p.S3Paths = maps.Clone(p.S3Paths)
	if p.S3Paths == nil {
		p.S3Paths = map[string]string{}
	}
	p.Metadata = cloneMetadata(p.Metadata)
	return p
}

func cloneMetadata(m models.ProgramMetadata) models.ProgramMetadata {
	data, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var out models.ProgramMetadata
	if err := json.Unmarshal(data, &out); err != nil {
		return m
	}
	return out
}

func cloneFailure(f models.ProcessingFailure) models.ProcessingFailure {
	f.ErrorDetails = maps.Clone(f.ErrorDetails)
	return f
}

func cloneJob(j models.ProcessingJob) models.ProcessingJob {
	j.ResultData = maps.Clone(j.ResultData)
	return j
}

// Compile-time checks.
var (
	_ store.Store = (*Memory)(nil)
	_ store.Tx    = (*memTx)(nil)
)
