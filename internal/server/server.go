// Package server exposes the analysis engine over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/ad-sentinel/internal/config"
	"github.com/raaihank/ad-sentinel/internal/engine"
	"github.com/raaihank/ad-sentinel/internal/feedback"
	"github.com/raaihank/ad-sentinel/internal/logger"
	"github.com/raaihank/ad-sentinel/internal/pattern"
	"github.com/raaihank/ad-sentinel/internal/store"
	"github.com/raaihank/ad-sentinel/internal/websocket"
)

// Server is the HTTP front of the analysis engine.
type Server struct {
	config   *config.Config
	logger   *logger.Logger
	engine   *engine.Engine
	snapshot func() *pattern.Snapshot
	feedback *feedback.Service
	store    *store.Store
	router   *mux.Router
	server   *http.Server
	wsHub    *websocket.Hub
}

// Options carries the collaborators the server needs. Feedback and Store
// are optional; their endpoints return 503 when absent.
type Options struct {
	Engine   *engine.Engine
	Snapshot func() *pattern.Snapshot
	Feedback *feedback.Service
	Store    *store.Store
}

// New creates the HTTP server and wires its routes.
func New(cfg *config.Config, log *logger.Logger, opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("server requires an engine")
	}

	wsHub := websocket.NewHub(&websocket.HubConfig{
		AllowedOrigins:      cfg.WebSocket.AllowedOrigins,
		BroadcastDetections: cfg.WebSocket.BroadcastDetections,
		BroadcastRequests:   cfg.WebSocket.BroadcastRequests,
	}, log.WithComponent("websocket").Logger)

	s := &Server{
		config:   cfg,
		logger:   log.WithComponent("server"),
		engine:   opts.Engine,
		snapshot: opts.Snapshot,
		feedback: opts.Feedback,
		store:    opts.Store,
		router:   mux.NewRouter(),
		wsHub:    wsHub,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	if s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.handleWebSocket).Methods("GET")
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.HandleFunc("/analyze", s.handleAnalyze).Methods("POST")
	api.HandleFunc("/analyze/batch", s.handleAnalyzeBatch).Methods("POST")
	api.HandleFunc("/patterns", s.handlePatterns).Methods("GET")
	api.HandleFunc("/feedback/false-positive", s.handleFalsePositive).Methods("POST")
	api.HandleFunc("/suggestions/{id:[0-9]+}/approve", s.handleSuggestionApprove).Methods("POST")
	api.HandleFunc("/suggestions/{id:[0-9]+}/reject", s.handleSuggestionReject).Methods("POST")
}

// Start starts the HTTP server and the WebSocket hub.
func (s *Server) Start() error {
	s.logger.Info("Starting ad-sentinel server",
		zap.Int("port", s.config.Server.Port),
		zap.Bool("audit_enabled", s.config.Engine.AuditEnabled),
		zap.Bool("websocket_enabled", s.config.WebSocket.Enabled))

	go s.wsHub.Run()

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping ad-sentinel server")
	return s.server.Shutdown(ctx)
}

// handleWebSocket upgrades dashboard connections.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.wsHub.HandleWebSocket(w, r)
}

// Hub exposes the event hub for broadcasting.
func (s *Server) Hub() *websocket.Hub {
	return s.wsHub
}
