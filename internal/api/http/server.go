// Package http provides the HTTP and WebSocket API of the portfolio workflow.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/saltfish/portfolio-optimizer/internal/db/repository"
)

// Version is reported by the health endpoint.
var Version = "dev"

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithArchive serves archived results from archive.
func WithArchive(archive repository.ResultArchive) ServerOption {
	return func(s *Server) {
		s.archive = archive
	}
}

// WithDatabase includes the database in health and readiness checks.
func WithDatabase(db HealthChecker) ServerOption {
	return func(s *Server) {
		s.db = db
	}
}

// WithHub mounts the WebSocket endpoint backed by hub.
func WithHub(hub *Hub) ServerOption {
	return func(s *Server) {
		s.hub = hub
	}
}

// WithWriteTimeout bounds the time to write a response. It must exceed the
// optimizer request timeout or slow optimizations are cut off.
func WithWriteTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithStatic serves h for every path outside the API, e.g. a form UI.
func WithStatic(h http.Handler) ServerOption {
	return func(s *Server) {
		s.static = h
	}
}

// Server provides the REST API, the WebSocket endpoint and health checks.
type Server struct {
	server       *http.Server
	router       chi.Router
	archive      repository.ResultArchive
	db           HealthChecker
	hub          *Hub
	static       http.Handler
	writeTimeout time.Duration
	logger       *zap.Logger
}

// NewServer creates a new HTTP server.
func NewServer(address string, workflow WorkflowService, logger *zap.Logger, opts ...ServerOption) *Server {
	s := &Server{
		writeTimeout: 90 * time.Second,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	handler := NewHandler(workflow, s.archive, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/health/live", s.handleLiveness)
	r.Get("/health/ready", s.handleReadiness)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/workflow", func(r chi.Router) {
			r.Get("/", handler.HandleGetWorkflow)
			r.Put("/inputs", handler.HandleUpdateInputs)
			r.Post("/optimize", handler.HandleOptimize)
			r.Post("/recommend", handler.HandleRecommend)
			r.Post("/recommend-and-optimize", handler.HandleRecommendAndOptimize)
			r.Get("/export", handler.HandleExportWeights)
			r.Get("/chart", handler.HandleChart)
		})

		r.Get("/results", handler.HandleListResults)
		r.Get("/results/{id}", handler.HandleGetResult)

		if s.hub != nil {
			r.Get("/ws/events", handler.HandleWebSocket(s.hub))
		}
	})

	if s.static != nil {
		r.Handle("/*", s.static)
	}

	s.router = r
	s.server = &http.Server{
		Addr:         address,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", zap.String("address", s.server.Addr))
	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server and disconnects WebSocket clients.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("HTTP server stopping")
	if s.hub != nil {
		s.hub.Shutdown()
	}
	return s.server.Shutdown(ctx)
}

// requestLogger logs every request with zap.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				logger.Info("HTTP request",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Services map[string]string `json:"services"`
}

// handleHealth handles the /health endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:   "healthy",
		Version:  Version,
		Services: make(map[string]string),
	}

	if s.db != nil {
		if err := s.db.HealthCheck(r.Context()); err != nil {
			response.Services["postgres"] = "unhealthy: " + err.Error()
			response.Status = "unhealthy"
		} else {
			response.Services["postgres"] = "healthy"
		}
	} else {
		response.Services["postgres"] = "not configured"
	}

	if s.hub != nil {
		response.Services["websocket"] = "healthy"
	} else {
		response.Services["websocket"] = "not configured"
	}

	status := http.StatusOK
	if response.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

// handleLiveness handles the /health/live endpoint (Kubernetes liveness probe).
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}

// handleReadiness handles the /health/ready endpoint (Kubernetes readiness probe).
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.HealthCheck(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "database unavailable: " + err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
