package model

import (
	"time"

	"buildforge/internal/domain"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSuccess   JobStatus = "success"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// FailureReasonMaxRetries marks jobs failed by the reclaim sweeper after the
// delivery counter passed the configured maximum.
const FailureReasonMaxRetries = "MaxRetriesExceeded"

// Job is the descriptor of one build-trigger-to-execution unit. It is created
// once by ingestion and afterwards mutated only by the worker holding the
// live claim on its queue entry.
type Job struct {
	ID     string    `json:"id"`
	Source string    `json:"source"`
	Branch string    `json:"branch"`
	Commit string    `json:"commit"`
	Actor  string    `json:"actor,omitempty"`
	Status JobStatus `json:"status"`

	// EntryID is the queue entry currently dispatching this job. It changes
	// when the sweeper re-enqueues a crashed delivery.
	EntryID string `json:"-"`

	WorkerID        string `json:"worker_id,omitempty"`
	Attempts        int    `json:"attempts"`
	ExitCode        *int   `json:"exit_code,omitempty"`
	FailureReason   string `json:"failure_reason,omitempty"`
	CancelRequested bool   `json:"cancel_requested,omitempty"`

	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Duration   *time.Duration `json:"duration,omitempty"`
}

// NewJob validates and constructs a pending job.
func NewJob(id, source, branch, commit, actor string) (*Job, error) {
	if id == "" || source == "" || commit == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &Job{
		ID:        id,
		Source:    source,
		Branch:    branch,
		Commit:    commit,
		Actor:     actor,
		Status:    JobStatusPending,
		CreatedAt: time.Now(),
	}, nil
}

// Terminal reports whether the job reached a final status.
func (j *Job) Terminal() bool {
	switch j.Status {
	case JobStatusSuccess, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransition enforces the monotonic lifecycle: pending -> running ->
// {success, failed, cancelled}, plus pending -> cancelled for never-claimed
// jobs. running -> running is allowed for a re-claim after a worker crash.
func (j *Job) CanTransition(to JobStatus) bool {
	switch j.Status {
	case JobStatusPending:
		switch to {
		case JobStatusRunning, JobStatusCancelled, JobStatusFailed:
			return true
		}
	case JobStatusRunning:
		switch to {
		case JobStatusRunning, JobStatusSuccess, JobStatusFailed, JobStatusCancelled:
			return true
		}
	}
	return false
}

// ValidStatus reports whether s names a known job status.
func ValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusPending, JobStatusRunning, JobStatusSuccess, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// LogChunk is one timestamped piece of a job's output stream.
type LogChunk struct {
	JobID     string    `json:"job_id"`
	Seq       int64     `json:"seq"`
	Chunk     string    `json:"chunk"`
	CreatedAt time.Time `json:"created_at"`
}
