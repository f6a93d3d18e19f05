// Package api serves the chat over HTTP: a JSON API, a live websocket
// feed, a server-rendered feed page and the outbound-link confirmation
// page.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"anonchat/internal/chat"
	"anonchat/internal/config"
	"anonchat/internal/cron"
	"anonchat/internal/identity"
	"anonchat/internal/logger"
	"anonchat/internal/presence"
)

// StatsProvider reports stored document counts per collection.
type StatsProvider interface {
	Stats(ctx context.Context) (map[string]int, error)
}

// Deps are the services the server exposes.
type Deps struct {
	Chat      *chat.Service
	Presence  *presence.Tracker
	Sessions  *identity.Manager
	Stats     StatsProvider
	Scheduler *cron.Scheduler
}

// APIServer handles HTTP API requests
type APIServer struct {
	config config.ServerConfig
	deps   Deps
	server *http.Server
	uptime time.Time
}

// NewAPIServer creates a new API server instance
func NewAPIServer(cfg config.ServerConfig, deps Deps) *APIServer {
	if cfg.GatePath == "" {
		cfg.GatePath = "/leave"
	}
	return &APIServer{
		config: cfg,
		deps:   deps,
		uptime: time.Now(),
	}
}

// Handler returns the routed handler with middleware applied.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()

	// Register routes
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/messages", s.handleListMessages)
	mux.HandleFunc("POST /api/messages", s.handleSendMessage)
	mux.HandleFunc("DELETE /api/messages", s.handleClear)
	mux.HandleFunc("PATCH /api/messages/{key}", s.handleEditMessage)
	mux.HandleFunc("DELETE /api/messages/{key}", s.handleDeleteMessage)
	mux.HandleFunc("POST /api/messages/{key}/pin", s.handlePin)
	mux.HandleFunc("DELETE /api/messages/{key}/pin", s.handleUnpin)
	mux.HandleFunc("POST /api/messages/{key}/reactions/{type}", s.handleReaction)
	mux.HandleFunc("GET /api/pinned", s.handlePinned)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("POST /api/presence", s.handlePresence)
	mux.HandleFunc("GET /api/online", s.handleOnline)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/settings", s.handleSettings)
	mux.HandleFunc("POST /api/preview", s.handlePreview)
	mux.HandleFunc("GET /api/feed/ws", s.handleFeedSocket)
	mux.HandleFunc("GET "+s.config.GatePath, s.handleLeavePage)
	mux.HandleFunc("POST "+s.config.GatePath, s.handleLeaveDecision)
	mux.HandleFunc("GET /{$}", s.handleFeedPage)

	// Apply middleware
	var handler http.Handler = mux
	handler = sessionMiddleware(s.deps.Sessions, s.config.SecureCookies)(handler)
	handler = corsMiddleware(s.config.AllowedOrigins)(handler)
	handler = loggingMiddleware(handler)
	handler = recoveryMiddleware(handler)
	return handler
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *APIServer) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("api: listening on %s", s.config.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	return s.Stop(context.WithoutCancel(ctx))
}

// Stop gracefully shuts down the HTTP server
func (s *APIServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	logger.Infof("api: shutting down")
	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}
