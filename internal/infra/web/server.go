// File: internal/infra/web/server.go
package web

import (
	"context"
	"net/http"
	"strings"
	"time"

	"buildforge/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Pinger is anything the health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	ingestUC usecase.IngestUseCase
	queryUC  usecase.JobQueryUseCase
	apiKey   string
	pingers  []Pinger
	log      *zerolog.Logger
}

func NewServer(
	ingestUC usecase.IngestUseCase,
	queryUC usecase.JobQueryUseCase,
	apiKey string,
	logger *zerolog.Logger,
	pingers ...Pinger,
) *Server {
	l := logger.With().Str("component", "web").Logger()
	return &Server{
		ingestUC: ingestUC,
		queryUC:  queryUC,
		apiKey:   apiKey,
		pingers:  pingers,
		log:      &l,
	}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/webhooks/{source}", s.handleWebhook)

	r.Route("/jobs", func(r chi.Router) {
		if s.apiKey != "" {
			r.Use(s.authMiddleware)
		}
		r.Get("/", s.handleListJobs)
		r.Get("/{id}", s.handleGetJob)
		r.Get("/{id}/logs", s.handleStreamLogs)
		r.Post("/{id}/cancel", s.handleCancelJob)
	})

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// authMiddleware provides simple Bearer token authentication for the jobs API.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || strings.ToLower(tokenParts[0]) != "bearer" {
			http.Error(w, "Unauthorized: Malformed token", http.StatusUnauthorized)
			return
		}

		if tokenParts[1] != s.apiKey {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, p := range s.pingers {
		if err := p.Ping(ctx); err != nil {
			http.Error(w, "dependency unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
