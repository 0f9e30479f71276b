// Package server assembles the HTTP and WebSocket API for the challenge
// simulator.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/propgate/propsim/internal/domain"
	"github.com/propgate/propsim/internal/server/handler"
	"github.com/propgate/propsim/internal/server/middleware"
	"github.com/propgate/propsim/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// OrderRateLimit caps order placements per account per window.
	// Zero disables the limiter.
	OrderRateLimit  int
	OrderRateWindow time.Duration
}

// Handlers aggregates all HTTP handlers the server registers.
type Handlers struct {
	Health    *handler.HealthHandler
	Templates *handler.TemplateHandler
	Accounts  *handler.AccountHandler
	Orders    *handler.OrderHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer registers all routes on a ServeMux and wires the middleware
// chain (auth, logging, CORS) plus per-account rate limiting on order
// placement.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Challenge template catalog.
	mux.HandleFunc("GET /api/templates", handlers.Templates.ListTemplates)
	mux.HandleFunc("GET /api/templates/{id}", handlers.Templates.GetTemplate)

	// Account and challenge lifecycle.
	mux.HandleFunc("POST /api/accounts/{id}/challenge", handlers.Accounts.StartChallenge)
	mux.HandleFunc("GET /api/accounts/{id}", handlers.Accounts.GetSnapshot)
	mux.HandleFunc("GET /api/accounts/{id}/history", handlers.Accounts.ListHistory)

	// Orders and positions. Order placement carries the rate limiter so a
	// misbehaving client cannot hammer the validation path.
	placeOrder := http.Handler(http.HandlerFunc(handlers.Orders.PlaceOrder))
	if limiter != nil && cfg.OrderRateLimit > 0 {
		window := cfg.OrderRateWindow
		if window <= 0 {
			window = time.Second
		}
		placeOrder = middleware.RateLimit(limiter, cfg.OrderRateLimit, window)(placeOrder)
	}
	mux.Handle("POST /api/accounts/{id}/orders", placeOrder)
	mux.HandleFunc("DELETE /api/accounts/{id}/orders/{posID}", handlers.Orders.CancelOrder)
	mux.HandleFunc("POST /api/accounts/{id}/positions/{posID}/close", handlers.Orders.ClosePosition)
	mux.HandleFunc("PUT /api/accounts/{id}/positions/{posID}/stops", handlers.Orders.UpdateStops)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
