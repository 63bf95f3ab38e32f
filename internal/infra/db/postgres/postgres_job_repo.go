package postgres

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"buildforge/internal/domain"
	"buildforge/internal/domain/model"
	"buildforge/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct{ pool *pgxpool.Pool }

func NewJobRepo(pool *pgxpool.Pool) *jobRepo {
	return &jobRepo{pool: pool}
}

const jobColumns = `id, source, branch, commit_sha, actor, status, entry_id, worker_id, attempts, exit_code, failure_reason, cancel_requested, created_at, started_at, finished_at, duration_ms`

func (r *jobRepo) Create(ctx context.Context, tx repository.Tx, job *model.Job) error {
	const q = `
INSERT INTO jobs (id, source, branch, commit_sha, actor, status, entry_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`

	_, err := execSQL(ctx, r.pool, tx, q,
		job.ID, job.Source, job.Branch, job.Commit, job.Actor, job.Status, job.EntryID, job.CreatedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *jobRepo) Find(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *jobRepo) List(ctx context.Context, filter repository.JobFilter, cursor string, limit int) ([]*model.Job, string, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.Source != "" {
		add("source = $%d", filter.Source)
	}
	if filter.Branch != "" {
		add("branch = $%d", filter.Branch)
	}
	if cursor != "" {
		at, id, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", domain.ErrInvalidArgument
		}
		args = append(args, at, id)
		conds = append(conds, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}

	q := `SELECT ` + jobColumns + ` FROM jobs`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit+1)
	q += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d;", len(args))

	rows, err := pickRows(ctx, r.pool, nil, q, args...)
	if err != nil {
		return nil, "", domain.ErrOperationFailed
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, "", err
		}
		jobs = append(jobs, j)
	}
	if rows.Err() != nil {
		return nil, "", domain.ErrOperationFailed
	}

	next := ""
	if len(jobs) > limit {
		jobs = jobs[:limit]
		last := jobs[len(jobs)-1]
		next = encodeCursor(last.CreatedAt, last.ID)
	}
	return jobs, next, nil
}

func (r *jobRepo) Claim(ctx context.Context, id, workerID, entryID string, attempt int) (*model.Job, error) {
	const q = `
UPDATE jobs
SET status='running', worker_id=$2, entry_id=$3, attempts=$4, started_at=now()
WHERE id=$1 AND status IN ('pending','running')
RETURNING ` + jobColumns + `;`

	row, err := pickRow(ctx, r.pool, nil, q, id, workerID, entryID, attempt)
	if err != nil {
		return nil, err
	}
	job, err := scanJob(row)
	if errors.Is(err, domain.ErrNotFound) {
		// Claim refused: the job is terminal or gone.
		if existing, ferr := r.Find(ctx, nil, id); ferr == nil {
			if existing.Terminal() {
				return nil, domain.ErrAlreadyTerminal
			}
		}
		return nil, domain.ErrNotFound
	}
	return job, err
}

func (r *jobRepo) UpdateStatus(ctx context.Context, id, workerID string, to model.JobStatus, upd repository.StatusUpdate) (*model.Job, error) {
	var durationMs *int64
	if upd.Duration != nil {
		ms := upd.Duration.Milliseconds()
		durationMs = &ms
	}
	const q = `
UPDATE jobs
SET status=$3, exit_code=$4, failure_reason=$5, finished_at=$6, duration_ms=$7
WHERE id=$1 AND worker_id=$2 AND status='running'
RETURNING ` + jobColumns + `;`

	row, err := pickRow(ctx, r.pool, nil, q, id, workerID, to, upd.ExitCode, upd.FailureReason, upd.FinishedAt, durationMs)
	if err != nil {
		return nil, err
	}
	job, err := scanJob(row)
	if errors.Is(err, domain.ErrNotFound) {
		existing, ferr := r.Find(ctx, nil, id)
		if ferr != nil {
			return nil, domain.ErrNotFound
		}
		if existing.WorkerID != workerID {
			return nil, domain.ErrClaimConflict
		}
		return nil, domain.ErrInvalidTransition
	}
	return job, err
}

func (r *jobRepo) RequestCancel(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	// Never-claimed jobs cancel outright; running jobs get the cooperative flag.
	const cancelPending = `
UPDATE jobs SET status='cancelled', finished_at=now()
WHERE id=$1 AND status='pending'
RETURNING ` + jobColumns + `;`

	row, err := pickRow(ctx, r.pool, tx, cancelPending, id)
	if err != nil {
		return nil, err
	}
	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	const flagRunning = `
UPDATE jobs SET cancel_requested=true
WHERE id=$1 AND status='running'
RETURNING ` + jobColumns + `;`

	row, err = pickRow(ctx, r.pool, tx, flagRunning, id)
	if err != nil {
		return nil, err
	}
	job, err = scanJob(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if existing, ferr := r.Find(ctx, tx, id); ferr == nil {
		if existing.Terminal() {
			return nil, domain.ErrAlreadyTerminal
		}
	}
	return nil, domain.ErrNotFound
}

func (r *jobRepo) SetEntryID(ctx context.Context, id, entryID string) error {
	const q = `UPDATE jobs SET entry_id=$2 WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, nil, q, id, entryID)
	return err
}

func (r *jobRepo) FailExhausted(ctx context.Context, id string, attempts int) (*model.Job, error) {
	const q = `
UPDATE jobs
SET status='failed', failure_reason=$2, attempts=$3, finished_at=now()
WHERE id=$1 AND status IN ('pending','running')
RETURNING ` + jobColumns + `;`

	row, err := pickRow(ctx, r.pool, nil, q, id, model.FailureReasonMaxRetries, attempts)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *jobRepo) PruneHistory(ctx context.Context, keep int) (int, error) {
	const q = `
DELETE FROM jobs
WHERE id IN (
  SELECT id FROM jobs
  WHERE status IN ('success','failed','cancelled')
  ORDER BY created_at DESC, id DESC
  OFFSET $1
);`
	tag, err := execSQL(ctx, r.pool, nil, q, keep)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanJob(row pgx.Row) (*model.Job, error) {
	j := &model.Job{}
	var (
		exitCode   *int
		startedAt  *time.Time
		finishedAt *time.Time
		durationMs *int64
	)
	err := row.Scan(
		&j.ID, &j.Source, &j.Branch, &j.Commit, &j.Actor, &j.Status, &j.EntryID,
		&j.WorkerID, &j.Attempts, &exitCode, &j.FailureReason, &j.CancelRequested,
		&j.CreatedAt, &startedAt, &finishedAt, &durationMs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	j.ExitCode = exitCode
	j.StartedAt = startedAt
	j.FinishedAt = finishedAt
	if durationMs != nil {
		d := time.Duration(*durationMs) * time.Millisecond
		j.Duration = &d
	}
	return j, nil
}

// Cursor is (created_at, id) keyset encoded opaquely. New rows sort ahead of
// any issued cursor in a newest-first listing, so pages stay stable under
// concurrent inserts.
func encodeCursor(at time.Time, id string) string {
	raw := at.UTC().Format(time.RFC3339Nano) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(c string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(c)
	if err != nil {
		return time.Time{}, "", err
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", domain.ErrInvalidArgument
	}
	at, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", err
	}
	return at, parts[1], nil
}
