// Package api provides the HTTP trigger server for the sync engine.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/manga-tracker/internal/logging"
	"github.com/manga-tracker/internal/models"
	"github.com/manga-tracker/internal/worker"
)

// Dependencies are interfaces for injection and testing

// SyncRunner runs sync jobs and reports engine state
type SyncRunner interface {
	Run(ctx context.Context, sourceID int64, full bool) (*worker.SyncResult, error)
	Status() worker.EngineStatus
}

// SyncLogReader reads the sync audit log
type SyncLogReader interface {
	ListRecentSyncLogs(ctx context.Context, sourceID int64, limit int) ([]*models.SyncLog, error)
}

// LastResultReader reads the cached most recent result of a source
type LastResultReader interface {
	LastSyncLog(ctx context.Context, sourceID int64) (*models.SyncLog, error)
}

// HealthChecker is a dependency probed by /health
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP trigger server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	engine     SyncRunner
	logs       SyncLogReader
	last       LastResultReader
	checks     map[string]HealthChecker
	config     *ServerConfig
	logger     *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	Secret          string // bearer secret for /sync routes
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestsPerSec  float64 // per client
	Burst           int
}

// ServerDeps groups the server's collaborators. Last and Checks are optional.
type ServerDeps struct {
	Engine SyncRunner
	Logs   SyncLogReader
	Last   LastResultReader
	Checks map[string]HealthChecker
	Logger *logging.Logger
}

// NewServer creates a new trigger server instance.
func NewServer(config *ServerConfig, deps *ServerDeps) (*Server, error) {
	if config == nil {
		return nil, fmt.Errorf("server config cannot be nil")
	}
	if config.Secret == "" {
		return nil, fmt.Errorf("server secret is required")
	}
	if deps == nil || deps.Engine == nil {
		return nil, fmt.Errorf("sync engine cannot be nil")
	}
	if deps.Logs == nil {
		return nil, fmt.Errorf("sync log reader cannot be nil")
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	s := &Server{
		router: mux.NewRouter(),
		engine: deps.Engine,
		logs:   deps.Logs,
		last:   deps.Last,
		checks: deps.Checks,
		config: config,
		logger: logger.WithField("component", "api"),
	}

	s.setupRouter()

	return s, nil
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rps := s.config.RequestsPerSec
	if rps <= 0 {
		rps = 5
	}
	burst := s.config.Burst
	if burst <= 0 {
		burst = 10
	}
	rateLimiter := NewRateLimiter(rps, burst)

	// Middleware order matters: request id first so every log line carries it
	s.router.Use(RequestIDMiddleware(s.logger))
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	syncRoutes := s.router.PathPrefix("/sync").Subrouter()
	syncRoutes.Use(AuthMiddleware(s.config.Secret))
	syncRoutes.Use(RateLimitMiddleware(rateLimiter))

	syncRoutes.HandleFunc("/source/{sourceId}/trigger", s.handleTrigger).Methods(http.MethodPost)
	syncRoutes.HandleFunc("/source/{sourceId}/logs", s.handleSyncLogs).Methods(http.MethodGet)
	syncRoutes.HandleFunc("/source/{sourceId}/last", s.handleLastResult).Methods(http.MethodGet)
	syncRoutes.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// Handler exposes the router for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth reports healthy when every registered dependency answers a ping
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string, len(s.checks))
	healthy := true
	for name, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			deps[name] = err.Error()
			healthy = false
			continue
		}
		deps[name] = "ok"
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	respondJSON(w, code, map[string]interface{}{
		"status":       status,
		"service":      "manga-sync",
		"dependencies": deps,
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting trigger server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down trigger server...")
	return s.httpServer.Shutdown(ctx)
}
