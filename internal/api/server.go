package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/mail-aggregator/internal/auth"
	"github.com/ignite/mail-aggregator/internal/config"
)

// Server wraps the router in an http.Server with sane timeouts.
type Server struct {
	config   config.ServerConfig
	handler  http.Handler
	handlers *Handlers
	server   *http.Server
}

// NewServer builds the routed server around the given handlers.
func NewServer(cfg config.ServerConfig, h *Handlers, authManager *auth.AuthManager) *Server {
	return &Server{
		config:   cfg,
		handler:  SetupRoutes(h, authManager),
		handlers: h,
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.handler,
		// Write timeout leaves room for streaming archive downloads.
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}
