// File: internal/infra/web/handlers.go
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"buildforge/internal/domain"
	"buildforge/internal/domain/model"
	"buildforge/internal/domain/ports/repository"

	"github.com/go-chi/chi/v5"
)

const maxWebhookBody = 1 << 20 // 1 MiB

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	signature := r.Header.Get("X-Hub-Signature-256")

	job, err := s.ingestUC.Ingest(r.Context(), source, body, signature)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnauthorized):
			http.Error(w, "bad signature", http.StatusUnauthorized)
		case errors.Is(err, domain.ErrInvalidPayload):
			http.Error(w, "invalid payload", http.StatusBadRequest)
		case errors.Is(err, domain.ErrRateLimited):
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		default:
			s.log.Error().Err(err).Str("source", source).Msg("ingest failed")
			http.Error(w, "queue append failed", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"job_id": job.ID})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter repository.JobFilter
	if st := q.Get("status"); st != "" {
		if !model.ValidStatus(st) {
			http.Error(w, "unknown status", http.StatusBadRequest)
			return
		}
		filter.Status = model.JobStatus(st)
	}
	filter.Source = q.Get("source")
	filter.Branch = q.Get("branch")

	limit, _ := strconv.Atoi(q.Get("limit"))

	jobs, next, err := s.queryUC.List(r.Context(), filter, q.Get("cursor"), limit)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			http.Error(w, "bad cursor", http.StatusBadRequest)
			return
		}
		http.Error(w, "failed to list jobs", http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Jobs       []*model.Job `json:"jobs"`
		NextCursor string       `json:"next_cursor,omitempty"`
	}{Jobs: jobs, NextCursor: next})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.queryUC.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to get job", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.queryUC.Cancel(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			http.Error(w, "job not found", http.StatusNotFound)
		case errors.Is(err, domain.ErrAlreadyTerminal):
			http.Error(w, "job already finished", http.StatusConflict)
		default:
			http.Error(w, "failed to cancel job", http.StatusInternalServerError)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(job)
}

// handleStreamLogs serves the job's output as server-sent events. The stream
// ends with an "end" event once the job reaches a terminal status.
func (s *Server) handleStreamLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	replay := true
	if v := r.URL.Query().Get("replay"); v != "" {
		replay, _ = strconv.ParseBool(v)
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	chunks, cancel, err := s.queryUC.StreamLogs(r.Context(), id, replay)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to open log stream", http.StatusInternalServerError)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case c, ok := <-chunks:
			if !ok {
				fmt.Fprint(w, "event: end\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			data, err := json.Marshal(c)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %d\ndata: %s\n\n", c.Seq, data)
			flusher.Flush()
		}
	}
}
