// Package api provides the HTTP REST API for starting and inspecting
// market analysis runs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
	"github.com/hugo-lorenzo-mato/marketflow/internal/events"
	"github.com/hugo-lorenzo-mato/marketflow/internal/logging"
	"github.com/hugo-lorenzo-mato/marketflow/internal/supervisor"
)

// RunService is the part of the supervisor runner the API drives.
type RunService interface {
	Start(ctx context.Context, request string) (core.RunID, error)
	Resume(ctx context.Context, id core.RunID) (*core.Snapshot, error)
	Get(ctx context.Context, id core.RunID) (*core.Snapshot, error)
	List(ctx context.Context) ([]core.RunSummary, error)
	ExecutionLog(ctx context.Context, id core.RunID) ([]core.HistoryEntry, error)
	IsDone(ctx context.Context, id core.RunID) (bool, error)
	Cancel(id core.RunID) bool
	Active() []core.RunID
	Registry() *supervisor.Registry
	Metrics() *supervisor.MetricsCollector
}

// Server provides HTTP REST API endpoints for run management.
type Server struct {
	router      chi.Router
	runs        RunService
	eventBus    *events.EventBus
	metrics     *Metrics
	logger      *logging.Logger
	corsOrigins []string
	// runCtx outlives requests; runs started over HTTP are bound to it.
	runCtx context.Context
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCORSOrigins sets the allowed CORS origins.
func WithCORSOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// WithMetrics exposes collected metrics on /metrics.
func WithMetrics(m *Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithRunContext sets the parent context of runs started over HTTP.
func WithRunContext(ctx context.Context) ServerOption {
	return func(s *Server) {
		if ctx != nil {
			s.runCtx = ctx
		}
	}
}

// NewServer creates a new API server.
func NewServer(runs RunService, eventBus *events.EventBus, opts ...ServerOption) *Server {
	s := &Server{
		runs:        runs,
		eventBus:    eventBus,
		logger:      logging.NewNop(),
		corsOrigins: []string{"*"},
		runCtx:      context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("api")
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/agents", s.handleListAgents)
		r.Get("/stats", s.handleStats)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Post("/", s.handleCreateRun)

			r.Route("/{runID}", func(r chi.Router) {
				r.Get("/", s.handleGetRun)
				r.Delete("/", s.handleCancelRun)
				r.Get("/log", s.handleRunLog)
				r.Get("/done", s.handleRunDone)
				r.Post("/resume", s.handleResumeRun)
			})
		})

		r.Get("/events", s.handleSSE)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			s.logger.Error("failed to encode response", "error", err)
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondDomainError maps an error to a status code and writes it.
func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	status, ok := httpStatusForDomainError(err)
	if !ok {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	var domErr *core.DomainError
	if errors.As(err, &domErr) {
		s.respondJSON(w, status, map[string]string{"error": domErr.Message, "code": domErr.Code})
		return
	}
	s.respondError(w, status, err.Error())
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status     string       `json:"status"`
	Time       string       `json:"time"`
	ActiveRuns []core.RunID `json:"active_runs"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	active := s.runs.Active()
	sort.Slice(active, func(i, j int) bool { return active[i] < active[j] })
	s.respondJSON(w, http.StatusOK, HealthResponse{
		Status:     "healthy",
		Time:       time.Now().UTC().Format(time.RFC3339),
		ActiveRuns: active,
	})
}

// handleStats returns per-agent attempt counters and run totals collected
// since the process started.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.runs.Metrics().Snapshot())
}

// ListenAndServe starts the HTTP server and shuts it down when ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting API server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
