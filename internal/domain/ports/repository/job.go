package repository

import (
	"context"
	"time"

	"buildforge/internal/domain/model"
)

// JobFilter narrows ListJobs results. Zero values mean "any".
type JobFilter struct {
	Status model.JobStatus
	Source string
	Branch string
}

// StatusUpdate carries the optional fields written together with a status
// change. Nil pointers leave the column untouched.
type StatusUpdate struct {
	ExitCode      *int
	FailureReason string
	FinishedAt    *time.Time
	Duration      *time.Duration
}

type JobRepository interface {
	Create(ctx context.Context, tx Tx, job *model.Job) error
	Find(ctx context.Context, tx Tx, id string) (*model.Job, error)

	// List returns jobs newest first using keyset pagination. cursor is the
	// opaque value returned by a previous call, empty for the first page.
	List(ctx context.Context, filter JobFilter, cursor string, limit int) ([]*model.Job, string, error)

	// Claim marks the job running under workerID, recording the delivery
	// attempt and the queue entry that dispatched it. It overwrites a stale
	// claim left by a crashed worker.
	Claim(ctx context.Context, id, workerID, entryID string, attempt int) (*model.Job, error)

	// UpdateStatus transitions the job held by workerID. A mismatched
	// workerID returns domain.ErrClaimConflict; a non-monotonic transition
	// returns domain.ErrInvalidTransition.
	UpdateStatus(ctx context.Context, id, workerID string, to model.JobStatus, upd StatusUpdate) (*model.Job, error)

	// RequestCancel cancels a pending job outright or flags a running one
	// for cooperative cancellation. Terminal jobs return ErrAlreadyTerminal.
	// The status checks and the matching updates are separate statements, so
	// callers run this inside a transaction for a consistent snapshot.
	RequestCancel(ctx context.Context, tx Tx, id string) (*model.Job, error)

	// SetEntryID repoints the job at a re-enqueued entry after a reclaim.
	SetEntryID(ctx context.Context, id, entryID string) error

	// FailExhausted force-fails a job whose deliveries passed maxAttempts.
	// Used by the sweeper, which holds no claim.
	FailExhausted(ctx context.Context, id string, attempts int) (*model.Job, error)

	// PruneHistory deletes the oldest terminal jobs beyond keep, returning
	// the number removed.
	PruneHistory(ctx context.Context, keep int) (int, error)
}

type JobLogRepository interface {
	// Append stores one output chunk, assigning the next per-job sequence
	// number, and returns the stored chunk.
	Append(ctx context.Context, jobID, chunk string) (*model.LogChunk, error)

	// ListSince returns chunks with seq > afterSeq in order.
	ListSince(ctx context.Context, jobID string, afterSeq int64) ([]*model.LogChunk, error)
}
