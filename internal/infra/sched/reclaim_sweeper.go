// File: internal/infra/sched/reclaim_sweeper.go
package sched

import (
	"context"
	"errors"
	"time"

	"buildforge/internal/config"
	"buildforge/internal/domain"
	"buildforge/internal/domain/ports/repository"
	"buildforge/internal/infra/metrics"

	"github.com/rs/zerolog"
)

const sweeperConsumer = "reclaim-sweeper"

// ReclaimSweeper recovers entries whose claim went stale because a worker
// crashed mid-execution. Each stale entry is either re-enqueued as a fresh
// entry (so any live worker can pick it up in normal delivery order) or, once
// deliveries exceed the maximum, its job is failed with MaxRetriesExceeded.
// The sweeper also prunes job history down to the configured retention.
type ReclaimSweeper struct {
	interval       time.Duration
	reclaimTimeout time.Duration
	maxAttempts    int
	historyLimit   int
	queue          repository.EventLog
	jobs           repository.JobRepository
	log            *zerolog.Logger
}

func NewReclaimSweeper(
	queueCfg config.QueueConfig,
	historyLimit int,
	queue repository.EventLog,
	jobs repository.JobRepository,
	logger *zerolog.Logger,
) *ReclaimSweeper {
	l := logger.With().Str("component", "ReclaimSweeper").Logger()
	return &ReclaimSweeper{
		interval:       queueCfg.SweepInterval,
		reclaimTimeout: queueCfg.ReclaimTimeout,
		maxAttempts:    queueCfg.MaxAttempts,
		historyLimit:   historyLimit,
		queue:          queue,
		jobs:           jobs,
		log:            &l,
	}
}

func (s *ReclaimSweeper) Run(ctx context.Context) error {
	s.log.Info().Dur("interval", s.interval).Msg("starting reclaim sweeper")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("stopping reclaim sweeper")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *ReclaimSweeper) sweep(ctx context.Context) {
	stale, err := s.queue.PendingSince(ctx, s.reclaimTimeout)
	if err != nil {
		s.log.Error().Err(err).Msg("pending scan failed")
		return
	}

	for _, p := range stale {
		s.recover(ctx, p)
	}

	if pruned, err := s.jobs.PruneHistory(ctx, s.historyLimit); err != nil {
		s.log.Error().Err(err).Msg("history prune failed")
	} else if pruned > 0 {
		s.log.Info().Int("count", pruned).Msg("pruned job history")
	}
}

func (s *ReclaimSweeper) recover(ctx context.Context, p repository.PendingEntry) {
	// Claiming the entry to the sweeper removes it from the crashed
	// consumer atomically; a worker acking concurrently makes this a no-op.
	entries, err := s.queue.Reclaim(ctx, p.ID, sweeperConsumer)
	if err != nil {
		s.log.Error().Err(err).Str("entry_id", p.ID).Msg("reclaim failed")
		return
	}
	if len(entries) == 0 {
		return // already acked
	}
	entry := entries[0]
	log := s.log.With().Str("entry_id", p.ID).Str("job_id", entry.JobID).Logger()

	job, err := s.jobs.Find(ctx, nil, entry.JobID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn().Msg("stale entry without descriptor, discarding")
		_ = s.queue.Remove(ctx, p.ID)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("descriptor lookup failed")
		return
	}

	if job.Terminal() {
		// The worker recorded the result but died before acking.
		_ = s.queue.Ack(ctx, p.ID)
		return
	}

	if int(p.Deliveries) >= s.maxAttempts {
		if _, err := s.jobs.FailExhausted(ctx, job.ID, int(p.Deliveries)); err != nil {
			log.Error().Err(err).Msg("failing exhausted job failed")
			return
		}
		_ = s.queue.Ack(ctx, p.ID)
		metrics.IncJobFinished("failed", 0)
		log.Warn().Int64("deliveries", p.Deliveries).Msg("job failed after max retries")
		return
	}

	// Re-enqueue as a fresh entry so normal group delivery applies; the old
	// entry is acked away. The stale worker_id on the descriptor is
	// corrected by the next claimant.
	newID, err := s.queue.Append(ctx, entry)
	if err != nil {
		log.Error().Err(err).Msg("re-enqueue failed")
		return
	}
	if err := s.jobs.SetEntryID(ctx, job.ID, newID); err != nil {
		log.Error().Err(err).Msg("entry repoint failed")
	}
	_ = s.queue.Remove(ctx, p.ID)
	metrics.IncReclaim()
	metrics.IncJobRetry()
	log.Info().Int64("deliveries", p.Deliveries).Str("new_entry_id", newID).Msg("stale claim re-enqueued")
}
