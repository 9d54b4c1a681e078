// Package httpserver exposes release status, the vote announcement and a
// token-protected promotion trigger over HTTP.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ILLUVRSE/release-orchestrator/internal/metrics"
	"github.com/ILLUVRSE/release-orchestrator/internal/orchestrator"
	"github.com/ILLUVRSE/release-orchestrator/internal/release"
	"github.com/ILLUVRSE/release-orchestrator/internal/state"
)

// Releases is the orchestration surface the server drives.
type Releases interface {
	Status(ctx context.Context, tag string) (*state.Record, error)
	Vote(ctx context.Context, tag string) (string, error)
	Promote(ctx context.Context, tag string) (orchestrator.PromoteResult, error)
}

type Server struct {
	releases Releases
	verifier *TokenVerifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func New(releases Releases, verifier *TokenVerifier, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{releases: releases, verifier: verifier, metrics: m, logger: logger.With("component", "httpserver")}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/releases/{tag}", func(r chi.Router) {
		r.With(middleware.Timeout(30*time.Second)).Get("/", s.handleStatus)
		r.With(middleware.Timeout(30*time.Second)).Get("/vote", s.handleVote)
		r.Group(func(r chi.Router) {
			r.Use(s.promoteAuth)
			r.Post("/promote", s.handlePromote)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := s.releases.Status(r.Context(), chi.URLParam(r, "tag"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	text, err := s.releases.Vote(r.Context(), chi.URLParam(r, "tag"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	s.logger.Info("promotion requested", "tag", tag, "subject", r.Context().Value(subjectKey{}))
	res, err := s.releases.Promote(r.Context(), tag)
	if err != nil {
		s.logger.Error("promotion failed", "tag", tag, "err", err)
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type subjectKey struct{}

func (s *Server) promoteAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.verifier == nil {
			respondError(w, http.StatusForbidden, "promotion over http is disabled")
			return
		}
		sub, err := s.verifier.VerifyRequest(r)
		if err != nil {
			respondError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey{}, sub)))
	})
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, state.ErrNotFound), errors.Is(err, orchestrator.ErrUnknownRelease):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, release.ErrOrdering), errors.Is(err, release.ErrPromotion):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, release.ErrConfiguration), errors.Is(err, release.ErrIntegrity):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, release.ErrRemoteTransaction):
		respondError(w, http.StatusBadGateway, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
