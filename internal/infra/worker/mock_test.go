//go:build !integration

package worker

import (
	"context"
	"sync"
	"time"

	"buildforge/internal/domain"
	"buildforge/internal/domain/model"
	"buildforge/internal/domain/ports/repository"
)

type fakeQueue struct {
	mu          sync.Mutex
	pending     []repository.Entry
	outstanding map[string]bool
	acked       []string
}

func (f *fakeQueue) Append(ctx context.Context, e repository.Entry) (string, error) {
	return "", nil
}

func (f *fakeQueue) ReadGroup(ctx context.Context, consumerID string, max int64, block time.Duration) ([]repository.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil, nil
	}
	e := f.pending[0]
	f.pending = f.pending[1:]
	if f.outstanding == nil {
		f.outstanding = map[string]bool{}
	}
	f.outstanding[e.ID] = true
	return []repository.Entry{e}, nil
}

func (f *fakeQueue) Ack(ctx context.Context, entryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.outstanding, entryID)
	f.acked = append(f.acked, entryID)
	return nil
}

func (f *fakeQueue) PendingSince(ctx context.Context, olderThan time.Duration) ([]repository.PendingEntry, error) {
	return nil, nil
}

func (f *fakeQueue) Reclaim(ctx context.Context, entryID, newConsumerID string) ([]repository.Entry, error) {
	return nil, nil
}

// Backlog mirrors the stream accounting: acked entries are gone, delivered
// ones count as pending until acked.
func (f *fakeQueue) Backlog(ctx context.Context) (repository.BacklogStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	queued := int64(len(f.pending))
	pending := int64(len(f.outstanding))
	return repository.BacklogStats{Length: queued + pending, Pending: pending, Queued: queued}, nil
}

func (f *fakeQueue) Remove(ctx context.Context, entryID string) error { return nil }

func (f *fakeQueue) ackedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked...)
}

type fakeJobs struct {
	mu   sync.Mutex
	jobs map[string]*model.Job

	updateErr error
}

func newFakeJobs(jobs ...*model.Job) *fakeJobs {
	m := &fakeJobs{jobs: map[string]*model.Job{}}
	for _, j := range jobs {
		cp := *j
		m.jobs[j.ID] = &cp
	}
	return m
}

func (f *fakeJobs) Create(ctx context.Context, tx repository.Tx, job *model.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *job
	f.jobs[job.ID] = &cp
	return nil
}

func (f *fakeJobs) Find(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (f *fakeJobs) List(ctx context.Context, filter repository.JobFilter, cursor string, limit int) ([]*model.Job, string, error) {
	return nil, "", nil
}

func (f *fakeJobs) Claim(ctx context.Context, id, workerID, entryID string, attempt int) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if j.Terminal() {
		return nil, domain.ErrAlreadyTerminal
	}
	now := time.Now()
	j.Status = model.JobStatusRunning
	j.WorkerID = workerID
	j.EntryID = entryID
	j.Attempts = attempt
	j.StartedAt = &now
	cp := *j
	return &cp, nil
}

func (f *fakeJobs) UpdateStatus(ctx context.Context, id, workerID string, to model.JobStatus, upd repository.StatusUpdate) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	j, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if j.WorkerID != workerID {
		return nil, domain.ErrClaimConflict
	}
	j.Status = to
	j.ExitCode = upd.ExitCode
	j.FailureReason = upd.FailureReason
	j.FinishedAt = upd.FinishedAt
	j.Duration = upd.Duration
	cp := *j
	return &cp, nil
}

func (f *fakeJobs) RequestCancel(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	j.CancelRequested = true
	cp := *j
	return &cp, nil
}

func (f *fakeJobs) SetEntryID(ctx context.Context, id, entryID string) error { return nil }

func (f *fakeJobs) FailExhausted(ctx context.Context, id string, attempts int) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	now := time.Now()
	j.Status = model.JobStatusFailed
	j.FailureReason = model.FailureReasonMaxRetries
	j.Attempts = attempts
	j.FinishedAt = &now
	cp := *j
	return &cp, nil
}

func (f *fakeJobs) PruneHistory(ctx context.Context, keep int) (int, error) { return 0, nil }

func (f *fakeJobs) get(id string) *model.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.jobs[id]
	return &cp
}

type fakeLogs struct {
	mu     sync.Mutex
	chunks map[string][]*model.LogChunk
}

func newFakeLogs() *fakeLogs {
	return &fakeLogs{chunks: map[string][]*model.LogChunk{}}
}

func (f *fakeLogs) Append(ctx context.Context, jobID, chunk string) (*model.LogChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &model.LogChunk{JobID: jobID, Seq: int64(len(f.chunks[jobID]) + 1), Chunk: chunk, CreatedAt: time.Now()}
	f.chunks[jobID] = append(f.chunks[jobID], c)
	return c, nil
}

func (f *fakeLogs) ListSince(ctx context.Context, jobID string, afterSeq int64) ([]*model.LogChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.LogChunk
	for _, c := range f.chunks[jobID] {
		if c.Seq > afterSeq {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeLogs) lines(jobID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.chunks[jobID] {
		out = append(out, c.Chunk)
	}
	return out
}

type fakeBus struct{}

func (fakeBus) Publish(ctx context.Context, chunk *model.LogChunk) error { return nil }

func (fakeBus) Subscribe(ctx context.Context, jobID string) (<-chan *model.LogChunk, func(), error) {
	ch := make(chan *model.LogChunk)
	return ch, func() {}, nil
}

type fakePool struct {
	mu      sync.Mutex
	desired int
	live    int
}

func (f *fakePool) SetDesired(ctx context.Context, poolID string, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.desired = n
	return nil
}

func (f *fakePool) GetDesired(ctx context.Context, poolID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.desired, nil
}

func (f *fakePool) Heartbeat(ctx context.Context, poolID, workerID string, ttl time.Duration) error {
	return nil
}

func (f *fakePool) Leave(ctx context.Context, poolID, workerID string) error { return nil }

func (f *fakePool) LiveCount(ctx context.Context, poolID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live, nil
}

// scriptExecutor replaces the shell with a canned outcome.
type scriptExecutor struct {
	exitCode int
	err      error
	lines    []string
	ran      bool
}

func (s *scriptExecutor) Run(ctx context.Context, job *model.Job, sink func(line string) error) (int, error) {
	s.ran = true
	for _, line := range s.lines {
		if err := sink(line); err != nil {
			return 130, err
		}
	}
	return s.exitCode, s.err
}

// silentExecutor emits nothing and runs until the context is killed, like a
// build that hangs without producing output.
type silentExecutor struct{}

func (silentExecutor) Run(ctx context.Context, job *model.Job, sink func(line string) error) (int, error) {
	<-ctx.Done()
	return -1, ctx.Err()
}
