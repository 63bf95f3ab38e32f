//go:build !integration

package usecase

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"buildforge/internal/config"
	"buildforge/internal/domain"
	"buildforge/internal/domain/model"

	"github.com/rs/zerolog"
)

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	body := []byte(`{"schema_version":1,"repository":"acme/api","branch":"main","commit":"deadbeef","actor":"dev"}`)

	newUC := func(queue *memEventLog, jobs *memJobRepo, lim *memLimiter, cfg config.IngestConfig) IngestUseCase {
		return NewIngestUseCase(queue, jobs, lim, cfg, testLogger())
	}

	t.Run("accepts a signed trigger and records entry then descriptor", func(t *testing.T) {
		queue, jobs, lim := newMemEventLog(), newMemJobRepo(), newMemLimiter()
		cfg := config.IngestConfig{Secret: "s3cret", RateLimit: 10, RateWindow: time.Minute}
		uc := newUC(queue, jobs, lim, cfg)

		job, err := uc.Ingest(ctx, "github", body, sign("s3cret", body))
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		if job.Status != model.JobStatusPending {
			t.Errorf("status = %q, want pending", job.Status)
		}
		if job.EntryID == "" {
			t.Error("job.EntryID not set from appended entry")
		}

		entries := queue.liveEntries()
		if len(entries) != 1 {
			t.Fatalf("live entries = %d, want 1", len(entries))
		}
		if entries[0].JobID != job.ID {
			t.Errorf("entry job id = %q, want %q", entries[0].JobID, job.ID)
		}
		if _, err := jobs.Find(ctx, nil, job.ID); err != nil {
			t.Errorf("descriptor not created: %v", err)
		}
	})

	t.Run("rejects a bad signature", func(t *testing.T) {
		queue, jobs, lim := newMemEventLog(), newMemJobRepo(), newMemLimiter()
		cfg := config.IngestConfig{Secret: "s3cret", RateLimit: 10, RateWindow: time.Minute}
		uc := newUC(queue, jobs, lim, cfg)

		_, err := uc.Ingest(ctx, "github", body, "sha256=0000")
		if !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("error = %v, want ErrUnauthorized", err)
		}
		if len(queue.liveEntries()) != 0 {
			t.Error("entry appended despite rejected signature")
		}
	})

	t.Run("rejects a missing signature when a secret is configured", func(t *testing.T) {
		queue, jobs, lim := newMemEventLog(), newMemJobRepo(), newMemLimiter()
		cfg := config.IngestConfig{Secret: "s3cret", RateLimit: 10, RateWindow: time.Minute}
		uc := newUC(queue, jobs, lim, cfg)

		if _, err := uc.Ingest(ctx, "github", body, ""); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("error = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("skips verification when no secret is configured", func(t *testing.T) {
		queue, jobs, lim := newMemEventLog(), newMemJobRepo(), newMemLimiter()
		cfg := config.IngestConfig{RateLimit: 10, RateWindow: time.Minute}
		uc := newUC(queue, jobs, lim, cfg)

		if _, err := uc.Ingest(ctx, "github", body, ""); err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
	})

	t.Run("rejects an invalid payload", func(t *testing.T) {
		queue, jobs, lim := newMemEventLog(), newMemJobRepo(), newMemLimiter()
		cfg := config.IngestConfig{RateLimit: 10, RateWindow: time.Minute}
		uc := newUC(queue, jobs, lim, cfg)

		_, err := uc.Ingest(ctx, "github", []byte(`{"commit":`), "")
		if !errors.Is(err, domain.ErrInvalidPayload) {
			t.Fatalf("error = %v, want ErrInvalidPayload", err)
		}
	})

	t.Run("rate limits a noisy source", func(t *testing.T) {
		queue, jobs, lim := newMemEventLog(), newMemJobRepo(), newMemLimiter()
		cfg := config.IngestConfig{RateLimit: 2, RateWindow: time.Minute}
		uc := newUC(queue, jobs, lim, cfg)

		for i := 0; i < 2; i++ {
			if _, err := uc.Ingest(ctx, "github", body, ""); err != nil {
				t.Fatalf("Ingest() #%d error = %v", i+1, err)
			}
		}
		if _, err := uc.Ingest(ctx, "github", body, ""); !errors.Is(err, domain.ErrRateLimited) {
			t.Fatalf("error = %v, want ErrRateLimited", err)
		}
		// Other sources keep their own budget.
		if _, err := uc.Ingest(ctx, "gitlab", body, ""); err != nil {
			t.Fatalf("Ingest() for second source error = %v", err)
		}
	})

	t.Run("maps append failure to ErrQueueAppend", func(t *testing.T) {
		queue, jobs, lim := newMemEventLog(), newMemJobRepo(), newMemLimiter()
		queue.appendErr = errors.New("stream down")
		cfg := config.IngestConfig{RateLimit: 10, RateWindow: time.Minute}
		uc := newUC(queue, jobs, lim, cfg)

		_, err := uc.Ingest(ctx, "github", body, "")
		if !errors.Is(err, domain.ErrQueueAppend) {
			t.Fatalf("error = %v, want ErrQueueAppend", err)
		}
		if len(jobs.jobs) != 0 {
			t.Error("descriptor created despite append failure")
		}
	})

	t.Run("removes the entry when the descriptor cannot be created", func(t *testing.T) {
		queue, jobs, lim := newMemEventLog(), newMemJobRepo(), newMemLimiter()
		jobs.createErr = errors.New("db down")
		cfg := config.IngestConfig{RateLimit: 10, RateWindow: time.Minute}
		uc := newUC(queue, jobs, lim, cfg)

		if _, err := uc.Ingest(ctx, "github", body, ""); err == nil {
			t.Fatal("Ingest() error = nil, want create failure")
		}
		if got := len(queue.liveEntries()); got != 0 {
			t.Errorf("live entries after compensation = %d, want 0", got)
		}
	})
}
