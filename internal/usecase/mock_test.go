//go:build !integration

package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"buildforge/internal/domain"
	"buildforge/internal/domain/model"
	"buildforge/internal/domain/ports/repository"

	"github.com/jackc/pgx/v4"
)

//
// ---------------- in-memory infra mocks ----------------
//

type memEventLog struct {
	mu      sync.Mutex
	seq     int
	entries []repository.Entry
	acked   map[string]bool
	removed map[string]bool

	appendErr error
}

func newMemEventLog() *memEventLog {
	return &memEventLog{acked: map[string]bool{}, removed: map[string]bool{}}
}

func (m *memEventLog) Append(ctx context.Context, e repository.Entry) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return "", m.appendErr
	}
	m.seq++
	e.ID = fmt.Sprintf("%d-0", m.seq)
	m.entries = append(m.entries, e)
	return e.ID, nil
}

func (m *memEventLog) ReadGroup(ctx context.Context, consumerID string, max int64, block time.Duration) ([]repository.Entry, error) {
	return nil, nil
}

func (m *memEventLog) Ack(ctx context.Context, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked[entryID] = true
	return nil
}

func (m *memEventLog) PendingSince(ctx context.Context, olderThan time.Duration) ([]repository.PendingEntry, error) {
	return nil, nil
}

func (m *memEventLog) Reclaim(ctx context.Context, entryID, newConsumerID string) ([]repository.Entry, error) {
	return nil, nil
}

func (m *memEventLog) Backlog(ctx context.Context) (repository.BacklogStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var length int64
	for _, e := range m.entries {
		if !m.removed[e.ID] && !m.acked[e.ID] {
			length++
		}
	}
	return repository.BacklogStats{Length: length, Queued: length}, nil
}

func (m *memEventLog) Remove(ctx context.Context, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed[entryID] = true
	return nil
}

func (m *memEventLog) liveEntries() []repository.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.Entry
	for _, e := range m.entries {
		if !m.removed[e.ID] {
			out = append(out, e)
		}
	}
	return out
}

type memJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.Job

	createErr error
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: map[string]*model.Job{}}
}

func (m *memJobRepo) Create(ctx context.Context, tx repository.Tx, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.jobs[job.ID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memJobRepo) Find(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobRepo) List(ctx context.Context, filter repository.JobFilter, cursor string, limit int) ([]*model.Job, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var all []*model.Job
	for _, j := range m.jobs {
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.Source != "" && j.Source != filter.Source {
			continue
		}
		if filter.Branch != "" && j.Branch != filter.Branch {
			continue
		}
		cp := *j
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, k int) bool {
		if all[i].CreatedAt.Equal(all[k].CreatedAt) {
			return all[i].ID > all[k].ID
		}
		return all[i].CreatedAt.After(all[k].CreatedAt)
	})
	start := 0
	if cursor != "" {
		for i, j := range all {
			if j.ID == cursor {
				start = i + 1
				break
			}
		}
	}
	var page []*model.Job
	for i := start; i < len(all) && len(page) < limit; i++ {
		page = append(page, all[i])
	}
	next := ""
	if start+len(page) < len(all) && len(page) > 0 {
		next = page[len(page)-1].ID
	}
	return page, next, nil
}

func (m *memJobRepo) Claim(ctx context.Context, id, workerID, entryID string, attempt int) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
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

func (m *memJobRepo) UpdateStatus(ctx context.Context, id, workerID string, to model.JobStatus, upd repository.StatusUpdate) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if j.WorkerID != workerID {
		return nil, domain.ErrClaimConflict
	}
	if j.Status != model.JobStatusRunning {
		return nil, domain.ErrInvalidTransition
	}
	j.Status = to
	j.ExitCode = upd.ExitCode
	j.FailureReason = upd.FailureReason
	j.FinishedAt = upd.FinishedAt
	j.Duration = upd.Duration
	cp := *j
	return &cp, nil
}

func (m *memJobRepo) RequestCancel(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	switch {
	case j.Status == model.JobStatusPending:
		now := time.Now()
		j.Status = model.JobStatusCancelled
		j.FinishedAt = &now
	case j.Status == model.JobStatusRunning:
		j.CancelRequested = true
	default:
		return nil, domain.ErrAlreadyTerminal
	}
	cp := *j
	return &cp, nil
}

func (m *memJobRepo) SetEntryID(ctx context.Context, id, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		j.EntryID = entryID
	}
	return nil
}

func (m *memJobRepo) FailExhausted(ctx context.Context, id string, attempts int) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
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

func (m *memJobRepo) PruneHistory(ctx context.Context, keep int) (int, error) { return 0, nil }

type memLogRepo struct {
	mu     sync.Mutex
	chunks map[string][]*model.LogChunk
}

func newMemLogRepo() *memLogRepo {
	return &memLogRepo{chunks: map[string][]*model.LogChunk{}}
}

func (m *memLogRepo) Append(ctx context.Context, jobID, chunk string) (*model.LogChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &model.LogChunk{
		JobID:     jobID,
		Seq:       int64(len(m.chunks[jobID]) + 1),
		Chunk:     chunk,
		CreatedAt: time.Now(),
	}
	m.chunks[jobID] = append(m.chunks[jobID], c)
	return c, nil
}

func (m *memLogRepo) ListSince(ctx context.Context, jobID string, afterSeq int64) ([]*model.LogChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.LogChunk
	for _, c := range m.chunks[jobID] {
		if c.Seq > afterSeq {
			out = append(out, c)
		}
	}
	return out, nil
}

// memBus delivers published chunks to all live subscribers.
type memBus struct {
	mu   sync.Mutex
	subs map[string][]chan *model.LogChunk
}

func newMemBus() *memBus {
	return &memBus{subs: map[string][]chan *model.LogChunk{}}
}

func (m *memBus) Publish(ctx context.Context, chunk *model.LogChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs[chunk.JobID] {
		select {
		case ch <- chunk:
		default:
		}
	}
	return nil
}

func (m *memBus) Subscribe(ctx context.Context, jobID string) (<-chan *model.LogChunk, func(), error) {
	ch := make(chan *model.LogChunk, 32)
	m.mu.Lock()
	m.subs[jobID] = append(m.subs[jobID], ch)
	m.mu.Unlock()
	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subs[jobID]
		for i, c := range subs {
			if c == ch {
				m.subs[jobID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	return ch, cancel, nil
}

// memTxMgr runs the callback directly; the nil tx takes the repositories
// down their non-transactional path.
type memTxMgr struct{}

func (memTxMgr) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, nil)
}

// spyTxMgr counts WithTx invocations.
type spyTxMgr struct{ calls int }

func (s *spyTxMgr) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.calls++
	return fn(ctx, nil)
}

type memLimiter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newMemLimiter() *memLimiter {
	return &memLimiter{counts: map[string]int{}}
}

func (m *memLimiter) Allow(ctx context.Context, source string, limit int, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[source]++
	return m.counts[source] <= limit, nil
}

func containsChunk(chunks []*model.LogChunk, text string) bool {
	for _, c := range chunks {
		if strings.Contains(c.Chunk, text) {
			return true
		}
	}
	return false
}
