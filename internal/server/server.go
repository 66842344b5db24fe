package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/wardenhq/llm-warden/internal/config"
	"github.com/wardenhq/llm-warden/internal/events"
	"github.com/wardenhq/llm-warden/internal/logger"
	"github.com/wardenhq/llm-warden/internal/metrics"
	"github.com/wardenhq/llm-warden/internal/pipeline"
	"github.com/wardenhq/llm-warden/internal/ruleset"
	"go.uber.org/zap"
)

// Reloader re-reads ruleset files and swaps the registry snapshot
type Reloader interface {
	Reload() error
}

// Server exposes the enforcement pipeline over HTTP
type Server struct {
	config   *config.Config
	logger   *logger.Logger
	pipeline *pipeline.Pipeline
	registry *ruleset.Registry
	reloader Reloader
	hub      *events.Hub
	metrics  *metrics.Metrics
	limiter  *RateLimiter
	router   *mux.Router
	server   *http.Server

	version   string
	startTime time.Time
}

// Options carries the collaborators the server wires together
type Options struct {
	Config   *config.Config
	Logger   *logger.Logger
	Pipeline *pipeline.Pipeline
	Registry *ruleset.Registry
	Reloader Reloader
	Hub      *events.Hub
	Metrics  *metrics.Metrics
	Version  string
}

// New creates the HTTP server and sets up its routes
func New(opts Options) *Server {
	s := &Server{
		config:    opts.Config,
		logger:    opts.Logger.WithComponent("server"),
		pipeline:  opts.Pipeline,
		registry:  opts.Registry,
		reloader:  opts.Reloader,
		hub:       opts.Hub,
		metrics:   opts.Metrics,
		router:    mux.NewRouter(),
		version:   opts.Version,
		startTime: time.Now(),
	}

	if opts.Config.RateLimit.Enabled {
		s.limiter = NewRateLimiter(opts.Config.RateLimit.RequestsPerSecond, opts.Config.RateLimit.Burst)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  opts.Config.Server.ReadTimeout,
		WriteTimeout: opts.Config.Server.WriteTimeout,
		IdleTimeout:  opts.Config.Server.IdleTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	if s.hub != nil && s.config.Events.Enabled {
		s.router.HandleFunc(s.config.Events.Path, s.hub.HandleWebSocket).Methods("GET")
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/analyze", s.handleAnalyze).Methods("POST")
	api.HandleFunc("/completions", s.handleCompletions).Methods("POST")
	api.HandleFunc("/rules", s.handleRules).Methods("GET")
	api.HandleFunc("/rules/reload", s.handleReload).Methods("POST")
}

// Start starts the HTTP server and the event hub
func (s *Server) Start() error {
	s.logger.Info("Starting llm-warden server",
		zap.Int("port", s.config.Server.Port),
		zap.String("version", s.version),
		zap.Strings("scopes", s.registry.Scopes()),
	)

	if s.hub != nil {
		go s.hub.Run()
	}

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping llm-warden server")
	if s.hub != nil {
		s.hub.Close()
	}
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	clients := 0
	if s.hub != nil {
		clients = s.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":              "llm-warden",
		"version":           s.version,
		"uptime":            time.Since(s.startTime).Round(time.Second).String(),
		"active_scopes":     len(s.registry.Scopes()),
		"connected_clients": clients,
		"classifier":        s.config.Classifier.Type,
		"fail_open":         s.config.Pipeline.FailOpen,
	})
}
