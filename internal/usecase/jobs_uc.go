// File: internal/usecase/jobs_uc.go
package usecase

import (
	"context"
	"time"

	"buildforge/internal/domain/model"
	"buildforge/internal/domain/ports/adapter"
	"buildforge/internal/domain/ports/repository"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

type JobQueryUseCase interface {
	Get(ctx context.Context, id string) (*model.Job, error)
	List(ctx context.Context, filter repository.JobFilter, cursor string, limit int) ([]*model.Job, string, error)

	// Cancel transitions a pending job to cancelled or flags a running one.
	Cancel(ctx context.Context, id string) (*model.Job, error)

	// StreamLogs returns a feed of log chunks for the job. With replay the
	// feed starts from the first chunk; otherwise only chunks written after
	// attach are delivered. The channel closes once the job is terminal and
	// the tail has been drained. The cancel func must always be called.
	StreamLogs(ctx context.Context, id string, replay bool) (<-chan *model.LogChunk, func(), error)
}

var _ JobQueryUseCase = (*jobQueryUC)(nil)

type jobQueryUC struct {
	jobs repository.JobRepository
	logs repository.JobLogRepository
	bus  adapter.LogBus
	txm  repository.TransactionManager
	log  *zerolog.Logger

	// terminalPoll bounds how stale a terminal-status check may be while a
	// live stream is quiet.
	terminalPoll time.Duration
}

func NewJobQueryUseCase(
	jobs repository.JobRepository,
	logs repository.JobLogRepository,
	bus adapter.LogBus,
	txm repository.TransactionManager,
	logger *zerolog.Logger,
) *jobQueryUC {
	l := logger.With().Str("component", "JobQueryUC").Logger()
	return &jobQueryUC{jobs: jobs, logs: logs, bus: bus, txm: txm, log: &l, terminalPoll: 2 * time.Second}
}

func (u *jobQueryUC) Get(ctx context.Context, id string) (*model.Job, error) {
	return u.jobs.Find(ctx, nil, id)
}

func (u *jobQueryUC) List(ctx context.Context, filter repository.JobFilter, cursor string, limit int) ([]*model.Job, string, error) {
	return u.jobs.List(ctx, filter, cursor, limit)
}

func (u *jobQueryUC) Cancel(ctx context.Context, id string) (*model.Job, error) {
	// RequestCancel tries pending, then running, then the terminal fallback.
	// The whole ladder runs in one transaction so a claim landing between the
	// steps cannot slip a job through uncancelled.
	var job *model.Job
	err := u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		job, err = u.jobs.RequestCancel(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	u.log.Info().Str("job_id", id).Str("status", string(job.Status)).Msg("cancel requested")
	return job, nil
}

func (u *jobQueryUC) StreamLogs(ctx context.Context, id string, replay bool) (<-chan *model.LogChunk, func(), error) {
	job, err := u.jobs.Find(ctx, nil, id)
	if err != nil {
		return nil, nil, err
	}

	streamCtx, stop := context.WithCancel(ctx)

	// Subscribe before replaying so no chunk published during the replay
	// window is lost; duplicates are dropped by sequence number below.
	live, unsub, err := u.bus.Subscribe(streamCtx, id)
	if err != nil {
		stop()
		return nil, nil, err
	}

	out := make(chan *model.LogChunk, 32)
	cancel := func() {
		stop()
		unsub()
	}

	go func() {
		defer close(out)

		var lastSeq int64
		if replay {
			history, err := u.logs.ListSince(streamCtx, id, 0)
			if err != nil {
				u.log.Error().Err(err).Str("job_id", id).Msg("log replay failed")
				return
			}
			for _, c := range history {
				if !send(streamCtx, out, c) {
					return
				}
				lastSeq = c.Seq
			}
		} else {
			// Attach point: everything already written is skipped.
			if history, err := u.logs.ListSince(streamCtx, id, 0); err == nil && len(history) > 0 {
				lastSeq = history[len(history)-1].Seq
			}
		}

		if job.Terminal() {
			return
		}

		ticker := time.NewTicker(u.terminalPoll)
		defer ticker.Stop()

		for {
			select {
			case <-streamCtx.Done():
				return
			case c, ok := <-live:
				if !ok {
					return
				}
				if c.Seq <= lastSeq {
					continue
				}
				if !send(streamCtx, out, c) {
					return
				}
				lastSeq = c.Seq
			case <-ticker.C:
				cur, err := u.jobs.Find(streamCtx, nil, id)
				if err != nil {
					return
				}
				if cur.Terminal() {
					// Drain the durable tail the bus may have missed, then end.
					if tail, err := u.logs.ListSince(streamCtx, id, lastSeq); err == nil {
						for _, c := range tail {
							if !send(streamCtx, out, c) {
								return
							}
							lastSeq = c.Seq
						}
					}
					return
				}
			}
		}
	}()

	return out, cancel, nil
}

func send(ctx context.Context, out chan<- *model.LogChunk, c *model.LogChunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
