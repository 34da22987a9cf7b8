// Package api exposes the scheduler over HTTP: schedule previews, batch
// management, delivery status lookups, and the provider event webhook.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maxretain/lifecycle-mailer/internal/config"
)

// Server wraps the HTTP server and its routes.
type Server struct {
	config   *config.Config
	handlers *Handlers
	router   *chi.Mux
	server   *http.Server
}

// NewServer builds a server around an already-wired Handlers value.
func NewServer(cfg *config.Config, h *Handlers) *Server {
	return &Server{
		config:   cfg,
		handlers: h,
		router:   SetupRoutes(h),
	}
}

// ListenAndServe starts the HTTP server on the given address and blocks
// until it stops. Processing a chunk holds the connection while sends are
// in flight, so the write timeout is generous.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       time.Minute,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the configured router for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}
