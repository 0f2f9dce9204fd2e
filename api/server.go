// Package api provides the HTTP surface of persona.
//
// Endpoints:
//
//	POST   /api/chat            → streaming chat turn (SSE)
//	GET    /api/sessions        → list the caller's sessions
//	GET    /api/sessions/{id}   → fetch one session transcript
//	DELETE /api/sessions/{id}   → delete a session
//	GET    /health              → liveness probe
//	GET    /ready               → readiness probe
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (recovery, logging, CORS)
//   - chat.go: streaming chat endpoint and device fingerprinting
//   - session.go: session management endpoints
//   - health.go: health check endpoints
//   - response.go: JSON response helpers
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arunsv/persona/internal/log"
	"github.com/arunsv/persona/internal/session"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:3500"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout is the timeout for reading request headers.
	ReadHeaderTimeout = 10 * time.Second

	// IdleTimeout is the maximum time to wait for the next request on
	// keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server for persona's REST API.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger

	corsOrigins []string

	health  *HealthHandler
	session *SessionHandler
	chat    *ChatHandler
}

// Config holds the dependencies for the server.
type Config struct {
	Chatter     Chatter
	Sessions    *session.Store
	Pool        *pgxpool.Pool
	CORSOrigins []string
	Logger      log.Logger
}

// NewServer creates an HTTP server with all routes registered.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	mux := http.NewServeMux()

	s := &Server{
		mux:         mux,
		logger:      cfg.Logger.With("component", "api"),
		corsOrigins: cfg.CORSOrigins,
		health:      NewHealthHandler(cfg.Pool, cfg.Logger),
		session:     NewSessionHandler(cfg.Sessions, cfg.Logger),
		chat:        NewChatHandler(cfg.Chatter, cfg.Logger),
	}

	s.health.RegisterRoutes(mux)
	s.session.RegisterRoutes(mux)
	s.chat.RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → logging → CORS → handler.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
		corsMiddleware(s.corsOrigins),
	)
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		IdleTimeout:       IdleTimeout,
		// No WriteTimeout: chat responses stream for as long as the
		// model generates.
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
