// Package http serves the assessment API alongside health, readiness, and
// metrics endpoints.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/striga-risk/internal/assessment"
	"github.com/couchcryptid/striga-risk/internal/domain"
)

const (
	maxRequestBytes = 1 << 20
	defaultLimit    = 20
	maxLimit        = 100
)

// Assessor runs a single assessment request.
type Assessor interface {
	Assess(ctx context.Context, req domain.AssessmentRequest) (domain.AssessmentRecord, error)
}

// AssessmentStore persists assessment records for later lookup.
type AssessmentStore interface {
	Save(ctx context.Context, rec domain.AssessmentRecord) error
	Get(ctx context.Context, id string) (domain.AssessmentRecord, error)
	Recent(ctx context.Context, limit int) ([]domain.AssessmentRecord, error)
}

// Server exposes the assessment API plus health, readiness, and metrics.
type Server struct {
	httpServer *http.Server
	assessor   Assessor
	store      AssessmentStore
	logger     *slog.Logger
}

// NewServer creates an HTTP server. store may be nil, in which case records
// are not persisted and lookups return 404.
func NewServer(addr string, assessor Assessor, store AssessmentStore, ready sharedobs.ReadinessChecker, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		assessor: assessor,
		store:    store,
		logger:   logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /v1/assessments", s.handleAssess)
	mux.HandleFunc("GET /v1/assessments", s.handleRecent)
	mux.HandleFunc("GET /v1/assessments/{id}", s.handleGet)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// handleAssess scores one field and answers with the compact
// {computed_risk, recommendation} result. The full record is stored and its
// ID returned in X-Assessment-ID.
func (s *Server) handleAssess(w http.ResponseWriter, r *http.Request) {
	var req domain.AssessmentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	rec, err := s.assessor.Assess(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		msg := err.Error()
		if status == http.StatusInternalServerError {
			s.logger.Error("assessment error", "error", err)
			msg = "internal error"
		}
		writeError(w, status, msg)
		return
	}

	if s.store != nil {
		if err := s.store.Save(r.Context(), rec); err != nil {
			s.logger.Warn("store assessment failed", "assessment_id", rec.ID, "error", err)
		}
	}

	w.Header().Set("X-Assessment-ID", rec.ID)
	writeJSON(w, http.StatusOK, rec.Result())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "assessment history is disabled")
		return
	}
	rec, err := s.store.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, domain.ErrAssessmentNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("load assessment failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "assessment history is disabled")
		return
	}
	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLimit)
	}
	recs, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("list assessments failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if recs == nil {
		recs = []domain.AssessmentRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"assessments": recs})
}

// statusFor maps assessment failures onto HTTP statuses.
func statusFor(err error) int {
	switch assessment.FailureReason(err) {
	case "invalid_input":
		return http.StatusBadRequest
	case "out_of_bounds", "insufficient_data":
		return http.StatusUnprocessableEntity
	case "weather":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
