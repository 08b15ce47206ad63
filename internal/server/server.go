// Package server exposes the router over HTTP: health, usage, metrics,
// classification and routing.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/llmrouter/internal/core/domain"
	"github.com/vietddude/llmrouter/internal/engine"
	"github.com/vietddude/llmrouter/internal/infra/storage"
	"github.com/vietddude/llmrouter/internal/routing/failover"
)

// Server provides the HTTP endpoints.
type Server struct {
	engine *engine.Engine
	server *http.Server
	log    *slog.Logger
}

// New creates a new server.
func New(e *engine.Engine, port int, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{engine: e, log: log}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/backends", s.handleBackends)
	mux.HandleFunc("POST /health/backends/reset", s.handleResetBackend)
	mux.HandleFunc("GET /usage", s.handleUsage)
	mux.HandleFunc("GET /decisions", s.handleDecisions)
	mux.HandleFunc("POST /v1/classify", s.handleClassify)
	mux.HandleFunc("POST /v1/route", s.handleRoute)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type healthResponse struct {
	Status engine.Status                `json:"status"`
	Tiers  map[string]engine.TierHealth `json:"tiers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	tiers := s.engine.TierHealth()
	status := engine.OverallStatus(tiers)

	code := http.StatusOK
	if status == engine.StatusCritical {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, healthResponse{Status: status, Tiers: tiers})
}

func (s *Server) handleBackends(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.GetHealthSnapshot())
}

type resetRequest struct {
	Backend domain.BackendKey `json:"backend"` // "provider/model"
}

func (s *Server) handleResetBackend(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "body must be {\"backend\": \"provider/model\"}")
		return
	}
	if err := s.engine.ResetBackend(req.Backend); err != nil {
		if errors.Is(err, engine.ErrUnknownBackend) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.engine.GetHealthSnapshot()[req.Backend])
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	u := s.engine.Usage()
	if u == nil {
		writeError(w, http.StatusNotFound, "usage tracking is disabled")
		return
	}
	writeJSON(w, http.StatusOK, u.Report())
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	repo := s.engine.Decisions()
	if repo == nil {
		writeError(w, http.StatusNotFound, "decision log is disabled")
		return
	}

	q := r.URL.Query()
	filter := storage.DecisionFilter{
		Tier:     q.Get("tier"),
		Provider: q.Get("provider"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = ts
	}

	decisions, err := repo.List(r.Context(), filter)
	if err != nil {
		s.log.Error("Failed to list decisions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list decisions")
		return
	}
	if decisions == nil {
		decisions = []*domain.Decision{}
	}
	writeJSON(w, http.StatusOK, decisions)
}

type queryRequest struct {
	Query        string  `json:"query"`
	DeclaredType string  `json:"declared_type"`
	Tier         *string `json:"tier"`
	MaxAttempts  int     `json:"max_attempts"`
}

type classifyResponse struct {
	Classification domain.Classification `json:"classification"`
	Tier           string                `json:"tier"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	c := s.engine.Classify(req.Query, req.DeclaredType)
	writeJSON(w, http.StatusOK, classifyResponse{
		Classification: c,
		Tier:           s.engine.SelectTier(c, req.Tier),
	})
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	res, err := s.engine.Route(r.Context(), domain.Query{Text: req.Query, DeclaredType: req.DeclaredType}, req.Tier, req.MaxAttempts)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, failover.ErrChainExhausted):
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":  "service unavailable, please retry",
			"result": res,
		})
	case errors.Is(err, context.Canceled):
		// client went away; nothing useful to write
	default:
		s.log.Error("Route failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
