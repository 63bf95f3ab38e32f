package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"buildforge/internal/domain"
	"buildforge/internal/domain/model"
	"buildforge/internal/domain/ports/repository"
)

var _ repository.JobLogRepository = (*jobLogRepo)(nil)

type jobLogRepo struct{ pool *pgxpool.Pool }

func NewJobLogRepo(pool *pgxpool.Pool) *jobLogRepo {
	return &jobLogRepo{pool: pool}
}

func (r *jobLogRepo) Append(ctx context.Context, jobID, chunk string) (*model.LogChunk, error) {
	// Only the claim-holding worker writes a job's log, so the MAX(seq)+1
	// assignment has a single writer and cannot race.
	const q = `
INSERT INTO job_logs (job_id, seq, chunk, created_at)
VALUES ($1, (SELECT COALESCE(MAX(seq), 0) + 1 FROM job_logs WHERE job_id = $1), $2, now())
RETURNING seq, created_at;`

	row, err := pickRow(ctx, r.pool, nil, q, jobID, chunk)
	if err != nil {
		return nil, err
	}
	out := &model.LogChunk{JobID: jobID, Chunk: chunk}
	if err := row.Scan(&out.Seq, &out.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *jobLogRepo) ListSince(ctx context.Context, jobID string, afterSeq int64) ([]*model.LogChunk, error) {
	const q = `
SELECT seq, chunk, created_at FROM job_logs
WHERE job_id=$1 AND seq > $2
ORDER BY seq;`

	rows, err := pickRows(ctx, r.pool, nil, q, jobID, afterSeq)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.LogChunk
	for rows.Next() {
		c := &model.LogChunk{JobID: jobID}
		if err := rows.Scan(&c.Seq, &c.Chunk, &c.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, domain.ErrOperationFailed
	}
	return out, nil
}
