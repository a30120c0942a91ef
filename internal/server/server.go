// Package server exposes the market engine over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/lmsrd/internal/domain"
	"github.com/alanyoungcy/lmsrd/internal/server/handler"
	"github.com/alanyoungcy/lmsrd/internal/server/middleware"
	"github.com/alanyoungcy/lmsrd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string

	// AdminKey gates the admin endpoints (create, fund, resolve, withdraw,
	// ownership, fees). Empty disables the check.
	AdminKey string

	// RateLimiter throttles per-client request rates when non-nil.
	RateLimiter domain.RateLimiter
	RateLimit   int
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server registers.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Markets   *handler.MarketHandler
	Positions *handler.PositionHandler

	// Faucet is only set when settling against the in-process token.
	Faucet *handler.FaucetHandler
}

// Server is the HTTP + WebSocket API server for the market daemon.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. Admin endpoints
// sit behind the auth middleware; trading and read endpoints are open.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	admin := middleware.Auth(cfg.AdminKey)
	adminFunc := func(h http.HandlerFunc) http.Handler { return admin(h) }

	// Health and status (no auth).
	mux.HandleFunc("GET /api/health", handlers.Health.Health)
	mux.HandleFunc("GET /api/status", handlers.Status.Status)

	// Market lifecycle (admin).
	mux.Handle("POST /api/markets", adminFunc(handlers.Markets.CreateMarket))
	mux.Handle("POST /api/markets/{id}/fund", adminFunc(handlers.Markets.Fund))
	mux.Handle("POST /api/markets/{id}/resolve", adminFunc(handlers.Markets.Resolve))
	mux.Handle("POST /api/markets/{id}/withdraw", adminFunc(handlers.Markets.Withdraw))
	mux.Handle("POST /api/markets/{id}/owner", adminFunc(handlers.Markets.TransferOwnership))
	mux.Handle("PUT /api/markets/{id}/fees", adminFunc(handlers.Markets.SetFeeConfig))

	// Trading and settlement.
	mux.HandleFunc("POST /api/markets/{id}/buy", handlers.Markets.Buy)
	mux.HandleFunc("POST /api/markets/{id}/sell", handlers.Markets.Sell)
	mux.HandleFunc("POST /api/markets/{id}/claim", handlers.Markets.Claim)

	// Reads.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/quotes/buy", handlers.Markets.QuoteBuy)
	mux.HandleFunc("GET /api/markets/{id}/quotes/sell", handlers.Markets.QuoteSell)
	mux.HandleFunc("GET /api/markets/{id}/price", handlers.Markets.SpotPrice)
	mux.HandleFunc("GET /api/markets/{id}/events", handlers.Markets.ListEvents)
	mux.HandleFunc("GET /api/markets/{id}/positions/{account}", handlers.Positions.GetPosition)
	mux.HandleFunc("GET /api/positions", handlers.Positions.ListByAccount)

	// Dev faucet, absent on on-chain deployments.
	if handlers.Faucet != nil {
		mux.HandleFunc("POST /api/faucet", handlers.Faucet.Mint)
	}

	// WebSocket event feed.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	if cfg.RateLimiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
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
		logger:     logger,
	}
}

// Handler returns the fully assembled HTTP handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
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
