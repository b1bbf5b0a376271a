// Package api exposes the HTTP interface for the harvester service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/alp82/goodwatch-monorepo-sub001/internal/catalog"
	"github.com/alp82/goodwatch-monorepo-sub001/internal/metrics"
	"github.com/alp82/goodwatch-monorepo-sub001/internal/runner"
	"github.com/alp82/goodwatch-monorepo-sub001/internal/scheduler"
)

// PassRunner triggers scheduling passes on demand.
type PassRunner interface {
	RunOnce(ctx context.Context, source catalog.SourceType) (runner.PassSummary, error)
	Policy(source catalog.SourceType) (scheduler.SourcePolicy, bool)
}

// Server wires HTTP handlers to the runner and ledger.
type Server struct {
	router chi.Router
	runner PassRunner
	ledger catalog.Ledger
	clock  catalog.Clock
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(passRunner PassRunner, ledger catalog.Ledger, clock catalog.Clock, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner: passRunner,
		ledger: ledger,
		clock:  clock,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sources/{source}", func(r chi.Router) {
			r.Post("/schedule", s.schedulePass)
			r.Get("/due", s.dueCounts)
		})
	})

	s.router = r
	return s
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) schedulePass(w http.ResponseWriter, r *http.Request) {
	source := catalog.SourceType(chi.URLParam(r, "source"))
	summary, err := s.runner.RunOnce(r.Context(), source)
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownSource) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		s.logger.Error("on-demand pass failed", zap.String("source", string(source)), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) dueCounts(w http.ResponseWriter, r *http.Request) {
	source := catalog.SourceType(chi.URLParam(r, "source"))
	policy, ok := s.runner.Policy(source)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown source"})
		return
	}
	staleCutoff := time.Time{}
	if policy.StaleReadmission {
		staleCutoff = s.clock.Now().Add(-policy.Buffer)
	}
	out := map[string]catalog.DueCounts{}
	for _, mediaType := range catalog.MediaTypes() {
		counts, err := s.ledger.DueCounts(r.Context(), source, mediaType, staleCutoff)
		if err != nil {
			s.logger.Error("due counts failed", zap.String("source", string(source)), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		out[string(mediaType)] = counts
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
