// File: internal/infra/worker/runner.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"buildforge/internal/config"
	"buildforge/internal/domain"
	"buildforge/internal/domain/model"
	"buildforge/internal/domain/ports/adapter"
	"buildforge/internal/domain/ports/repository"
	"buildforge/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// cancelPollEvery bounds how often an executing job re-reads its descriptor
// to honor cooperative cancellation.
const cancelPollEvery = time.Second

// Runner is one ephemeral worker: it joins the consumer group, claims one
// entry at a time, executes it, streams output to the registry and
// acknowledges only after the terminal status is durably recorded. A crash
// anywhere before the ack leaves the entry pending for the reclaim sweep.
type Runner struct {
	consumerID  string
	queue       repository.EventLog
	jobs        repository.JobRepository
	logs        repository.JobLogRepository
	bus         adapter.LogBus
	poolState   repository.PoolState
	executor    Executor
	poolID      string
	cfg         config.WorkerConfig
	maxAttempts int
	cancelPoll  time.Duration
	log         *zerolog.Logger
}

func NewRunner(
	queue repository.EventLog,
	jobs repository.JobRepository,
	logs repository.JobLogRepository,
	bus adapter.LogBus,
	poolState repository.PoolState,
	executor Executor,
	poolID string,
	cfg config.WorkerConfig,
	maxAttempts int,
	logger *zerolog.Logger,
) *Runner {
	host, _ := os.Hostname()
	consumerID := fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	l := logger.With().Str("component", "worker").Str("consumer_id", consumerID).Logger()
	return &Runner{
		consumerID:  consumerID,
		queue:       queue,
		jobs:        jobs,
		logs:        logs,
		bus:         bus,
		poolState:   poolState,
		executor:    executor,
		poolID:      poolID,
		cfg:         cfg,
		maxAttempts: maxAttempts,
		cancelPoll:  cancelPollEvery,
		log:         &l,
	}
}

// ConsumerID exposes the group member name, mainly for logs and tests.
func (r *Runner) ConsumerID() string { return r.consumerID }

// Run executes the claim loop until ctx is cancelled or the pool target
// says this worker is surplus.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info().Msg("worker joining")
	heartbeatTTL := 3 * r.cfg.PollTimeout
	if err := r.poolState.Heartbeat(ctx, r.poolID, r.consumerID, heartbeatTTL); err != nil {
		return fmt.Errorf("join pool: %w", err)
	}
	defer func() {
		leaveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.poolState.Leave(leaveCtx, r.poolID, r.consumerID)
		r.log.Info().Msg("worker left pool")
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		entries, err := r.queue.ReadGroup(ctx, r.consumerID, 1, r.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Error().Err(err).Msg("poll failed")
			time.Sleep(time.Second)
			continue
		}

		_ = r.poolState.Heartbeat(ctx, r.poolID, r.consumerID, heartbeatTTL)

		if len(entries) == 0 {
			if r.surplus(ctx) {
				r.log.Info().Msg("pool target dropped, terminating")
				return nil
			}
			continue
		}

		r.process(ctx, entries[0])
	}
}

// surplus reports whether more workers are live than the controller wants.
func (r *Runner) surplus(ctx context.Context) bool {
	desired, err := r.poolState.GetDesired(ctx, r.poolID)
	if err != nil {
		return false
	}
	live, err := r.poolState.LiveCount(ctx, r.poolID)
	if err != nil {
		return false
	}
	return live > desired
}

func (r *Runner) process(ctx context.Context, entry repository.Entry) {
	log := r.log.With().Str("job_id", entry.JobID).Str("entry_id", entry.ID).Logger()

	job, err := r.jobs.Find(ctx, nil, entry.JobID)
	if errors.Is(err, domain.ErrNotFound) {
		// Poison entry: ingestion crashed between append and descriptor
		// write. Nothing to execute, drop it.
		log.Warn().Msg("entry without descriptor, discarding")
		_ = r.queue.Ack(ctx, entry.ID)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("descriptor lookup failed")
		return // stays pending, reclaim will retry
	}

	if job.Terminal() {
		// Late redelivery of an already finished job.
		_ = r.queue.Ack(ctx, entry.ID)
		return
	}

	attempt := job.Attempts + 1
	if attempt > r.maxAttempts {
		if _, err := r.jobs.FailExhausted(ctx, job.ID, job.Attempts); err == nil {
			metrics.IncJobFinished(string(model.JobStatusFailed), 0)
			log.Warn().Int("attempts", job.Attempts).Msg("job exceeded max attempts")
		}
		_ = r.queue.Ack(ctx, entry.ID)
		return
	}

	claimed, err := r.jobs.Claim(ctx, job.ID, r.consumerID, entry.ID, attempt)
	if errors.Is(err, domain.ErrAlreadyTerminal) {
		_ = r.queue.Ack(ctx, entry.ID)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("claim failed")
		return
	}
	log.Info().Int("attempt", attempt).Msg("job claimed")

	status, upd := r.execute(ctx, claimed)

	// Terminal status must be durable before the ack; crashing here means
	// redelivery, never silent loss.
	final, err := r.jobs.UpdateStatus(ctx, job.ID, r.consumerID, status, upd)
	if err != nil {
		log.Error().Err(err).Str("status", string(status)).Msg("terminal status write failed")
		return // entry stays pending for reclaim
	}
	if err := r.queue.Ack(ctx, entry.ID); err != nil {
		log.Error().Err(err).Msg("ack failed")
		return
	}

	var secs float64
	if final.Duration != nil {
		secs = final.Duration.Seconds()
	}
	metrics.IncJobFinished(string(status), secs)
	log.Info().Str("status", string(status)).Msg("job finished")
}

// execute runs the job and derives its terminal status. A watcher polls the
// descriptor for the cancellation flag and kills the run context when it is
// set, so a build that never prints a line still gets stopped.
func (r *Runner) execute(ctx context.Context, job *model.Job) (model.JobStatus, repository.StatusUpdate) {
	started := time.Now()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	var cancelRequested atomic.Bool
	go func() {
		ticker := time.NewTicker(r.cancelPoll)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if cur, err := r.jobs.Find(runCtx, nil, job.ID); err == nil && cur.CancelRequested {
					cancelRequested.Store(true)
					stop()
					return
				}
			}
		}
	}()

	sink := func(line string) error {
		if err := r.appendLog(ctx, job.ID, line); err != nil {
			r.log.Error().Err(err).Str("job_id", job.ID).Msg("log append failed")
		}
		if cancelRequested.Load() {
			return ErrCancelRequested
		}
		return nil
	}

	exitCode, err := r.executor.Run(runCtx, job, sink)

	finished := time.Now()
	duration := finished.Sub(started)
	upd := repository.StatusUpdate{
		ExitCode:   &exitCode,
		FinishedAt: &finished,
		Duration:   &duration,
	}

	switch {
	case err == nil:
		return model.JobStatusSuccess, upd
	case errors.Is(err, ErrCancelRequested) || cancelRequested.Load():
		_ = r.appendLog(ctx, job.ID, "build cancelled")
		return model.JobStatusCancelled, upd
	default:
		_ = r.appendLog(ctx, job.ID, "build failed: "+err.Error())
		upd.FailureReason = err.Error()
		return model.JobStatusFailed, upd
	}
}

func (r *Runner) appendLog(ctx context.Context, jobID, line string) error {
	chunk, err := r.logs.Append(ctx, jobID, line)
	if err != nil {
		return err
	}
	// Live fan-out is best-effort; the table is the durable record.
	if err := r.bus.Publish(ctx, chunk); err != nil {
		r.log.Debug().Err(err).Str("job_id", jobID).Msg("log publish failed")
	}
	return nil
}
