// File: internal/infra/scaler/controller.go
package scaler

import (
	"context"
	"time"

	"buildforge/internal/config"
	"buildforge/internal/domain/ports/adapter"
	"buildforge/internal/domain/ports/repository"
	"buildforge/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Locker is the slice of the distributed lock the controller needs. Only one
// control-plane instance may act on a pool per tick.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	Unlock(ctx context.Context, key, token string) error
}

type PoolPhase string

const (
	PhaseIdle        PoolPhase = "idle"
	PhaseScalingUp   PoolPhase = "scaling_up"
	PhaseSteady      PoolPhase = "steady"
	PhaseScalingDown PoolPhase = "scaling_down"
)

// degradedThreshold is the number of consecutive failed creation attempts
// after which the pool is reported degraded.
const degradedThreshold = 3

// Controller translates queue backlog into a desired worker replica count.
// It only ever creates workers; scale-down happens cooperatively when
// workers observe desired < live and exit after finishing their claim.
type Controller struct {
	queue     repository.EventLog
	poolState repository.PoolState
	substrate adapter.WorkerSubstrate
	locker    Locker
	cfg       config.ScalerConfig
	log       *zerolog.Logger

	phase        PoolPhase
	emptySince   time.Time
	failStreak   int
	backoffUntil time.Time

	now func() time.Time // stubbed in tests
}

func NewController(
	queue repository.EventLog,
	poolState repository.PoolState,
	substrate adapter.WorkerSubstrate,
	locker Locker,
	cfg config.ScalerConfig,
	logger *zerolog.Logger,
) *Controller {
	l := logger.With().Str("component", "scaler").Str("pool", cfg.PoolID).Logger()
	return &Controller{
		queue:     queue,
		poolState: poolState,
		substrate: substrate,
		locker:    locker,
		cfg:       cfg,
		log:       &l,
		phase:     PhaseIdle,
		now:       time.Now,
	}
}

// Run executes the control loop until ctx is cancelled. Ticks never overlap:
// the tick body runs synchronously, and a tick that outlasts the interval
// simply drops the missed firings.
func (c *Controller) Run(ctx context.Context) error {
	c.log.Info().Dur("interval", c.cfg.Interval).Msg("autoscaler started")
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("autoscaler stopping")
			return ctx.Err()
		case <-ticker.C:
			tickCtx, cancel := context.WithTimeout(ctx, c.cfg.Interval)
			c.tick(tickCtx)
			cancel()
		}
	}
}

func (c *Controller) tick(ctx context.Context) {
	lockKey := "buildforge:scaler:" + c.cfg.PoolID
	token, err := c.locker.TryLock(ctx, lockKey, c.cfg.Interval)
	if err != nil {
		return // another instance holds the pool
	}
	defer func() { _ = c.locker.Unlock(ctx, lockKey, token) }()

	stats, err := c.queue.Backlog(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("backlog sample failed")
		return
	}
	metrics.SetQueueBacklog(stats.Queued, stats.Pending)

	workers, err := c.substrate.ListWorkers(ctx, c.cfg.PoolID)
	if err != nil {
		c.log.Error().Err(err).Msg("substrate list failed")
		return
	}
	current := len(workers)

	desired := c.computeDesired(stats, current)

	if err := c.poolState.SetDesired(ctx, c.cfg.PoolID, desired); err != nil {
		c.log.Error().Err(err).Msg("publish desired failed")
		return
	}
	metrics.SetReplicas(c.cfg.PoolID, desired, current)
	c.setPhase(desired, current)

	if desired > current {
		c.scaleUp(ctx, desired-current)
	}
}

// computeDesired maps backlog demand to a replica target. Demand beyond
// maxReplicas queues up rather than being rejected: backpressure is policy.
func (c *Controller) computeDesired(stats repository.BacklogStats, current int) int {
	demand := stats.Queued + stats.Pending
	if demand == 0 {
		if c.emptySince.IsZero() {
			c.emptySince = c.now()
		}
		if c.now().Sub(c.emptySince) >= c.cfg.IdleWindow {
			return 0
		}
		// Hold the pool until the idle window elapses; short gaps between
		// pushes should not thrash workers.
		return current
	}
	c.emptySince = time.Time{}

	per := int64(c.cfg.EntriesPerWorker)
	desired := int((demand + per - 1) / per)
	if desired > c.cfg.MaxReplicas {
		desired = c.cfg.MaxReplicas
	}
	return desired
}

func (c *Controller) scaleUp(ctx context.Context, n int) {
	if c.now().Before(c.backoffUntil) {
		return
	}
	for i := 0; i < n; i++ {
		handle, err := c.substrate.CreateWorker(ctx, c.cfg.PoolID)
		if err != nil {
			c.failStreak++
			metrics.IncCreateFailure(c.cfg.PoolID)
			backoff := c.cfg.Interval << uint(c.failStreak)
			if backoff > 5*time.Minute {
				backoff = 5 * time.Minute
			}
			c.backoffUntil = c.now().Add(backoff)
			if c.failStreak >= degradedThreshold {
				c.log.Error().Err(err).Int("fail_streak", c.failStreak).Msg("worker pool degraded")
			} else {
				c.log.Warn().Err(err).Dur("backoff", backoff).Msg("worker creation failed")
			}
			return
		}
		c.log.Info().Str("worker", handle.ID).Msg("worker created")
	}
	c.failStreak = 0
	c.backoffUntil = time.Time{}
}

func (c *Controller) setPhase(desired, current int) {
	var next PoolPhase
	switch {
	case desired == 0 && current == 0:
		next = PhaseIdle
	case desired > current:
		next = PhaseScalingUp
	case desired < current:
		next = PhaseScalingDown
	default:
		next = PhaseSteady
	}
	if next != c.phase {
		c.log.Info().
			Str("from", string(c.phase)).Str("to", string(next)).
			Int("desired", desired).Int("current", current).
			Msg("pool phase changed")
		c.phase = next
	}
}
