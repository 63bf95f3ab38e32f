// File: internal/usecase/ingest_uc.go
package usecase

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"buildforge/internal/config"
	"buildforge/internal/domain"
	"buildforge/internal/domain/model"
	"buildforge/internal/domain/ports/repository"
	"buildforge/internal/infra/metrics"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// RateLimiter is the slice of the limiter the gateway needs.
type RateLimiter interface {
	Allow(ctx context.Context, source string, limit int, window time.Duration) (bool, error)
}

type IngestUseCase interface {
	// Ingest validates, registers and enqueues one trigger event. The
	// returned job is Pending; execution is asynchronous.
	Ingest(ctx context.Context, source string, body []byte, signature string) (*model.Job, error)
}

var _ IngestUseCase = (*ingestUC)(nil)

type ingestUC struct {
	queue   repository.EventLog
	jobs    repository.JobRepository
	limiter RateLimiter
	cfg     config.IngestConfig
	log     *zerolog.Logger
}

func NewIngestUseCase(
	queue repository.EventLog,
	jobs repository.JobRepository,
	limiter RateLimiter,
	cfg config.IngestConfig,
	logger *zerolog.Logger,
) *ingestUC {
	l := logger.With().Str("component", "IngestUC").Logger()
	return &ingestUC{queue: queue, jobs: jobs, limiter: limiter, cfg: cfg, log: &l}
}

func (u *ingestUC) Ingest(ctx context.Context, source string, body []byte, signature string) (*model.Job, error) {
	start := time.Now()

	if err := u.verifySignature(body, signature); err != nil {
		metrics.IncWebhook(source, "unauthorized")
		return nil, err
	}

	ev, err := model.ParseTriggerEvent(body)
	if err != nil {
		metrics.IncWebhook(source, "invalid")
		return nil, err
	}

	ok, err := u.limiter.Allow(ctx, source, u.cfg.RateLimit, u.cfg.RateWindow)
	if err != nil {
		// A broken limiter must not drop triggers; log and let it through.
		u.log.Error().Err(err).Str("source", source).Msg("rate limiter unavailable")
	} else if !ok {
		metrics.IncWebhook(source, "rate_limited")
		return nil, domain.ErrRateLimited
	}

	job, err := model.NewJob(ulid.Make().String(), source, ev.Branch, ev.Commit, ev.Actor)
	if err != nil {
		metrics.IncWebhook(source, "invalid")
		return nil, domain.ErrInvalidPayload
	}

	// Entry first, descriptor second: a crash in between leaves an entry
	// whose descriptor lookup fails, which workers treat as a poison entry
	// and ack away. The reverse order would strand a Pending descriptor
	// no worker will ever pick up.
	entryID, err := u.queue.Append(ctx, repository.Entry{
		JobID:         job.ID,
		Source:        source,
		Branch:        ev.Branch,
		Commit:        ev.Commit,
		SchemaVersion: ev.SchemaVersion,
	})
	if err != nil {
		metrics.IncWebhook(source, "error")
		return nil, domain.ErrQueueAppend
	}
	job.EntryID = entryID

	if err := u.jobs.Create(ctx, nil, job); err != nil {
		// Compensate so no entry dispatches a job that was never recorded.
		if rmErr := u.queue.Remove(ctx, entryID); rmErr != nil {
			u.log.Error().Err(rmErr).Str("entry_id", entryID).Msg("orphan entry cleanup failed")
		}
		metrics.IncWebhook(source, "error")
		return nil, err
	}

	metrics.IncWebhook(source, "accepted")
	metrics.ObserveIngestLatency(float64(time.Since(start).Milliseconds()))
	u.log.Info().Str("job_id", job.ID).Str("source", source).Str("commit", ev.Commit).Msg("trigger accepted")
	return job, nil
}

func (u *ingestUC) verifySignature(body []byte, signature string) error {
	if u.cfg.Secret == "" {
		return nil
	}
	sig := strings.TrimPrefix(signature, "sha256=")
	if sig == "" {
		return domain.ErrUnauthorized
	}
	mac := hmac.New(sha256.New, []byte(u.cfg.Secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(sig))) {
		return domain.ErrUnauthorized
	}
	return nil
}
