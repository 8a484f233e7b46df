// Package api is the HTTP surface of the authorization core. The
// conversational transport posts action and PIN requests; the signing
// surface posts completed signatures.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chat-wallet/chat-wallet/internal/app"
	"github.com/chat-wallet/chat-wallet/internal/config"
	"github.com/chat-wallet/chat-wallet/internal/logger"
	"github.com/chat-wallet/chat-wallet/internal/middleware"
	"github.com/chat-wallet/chat-wallet/internal/storage"
)

// Server represents the HTTP server
type Server struct {
	config      *config.Config
	actions     *app.ActionService
	txs         *storage.TransactionRepository
	rateLimiter *middleware.RateLimiter
	httpServer  *http.Server
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, actions *app.ActionService, txs *storage.TransactionRepository) *Server {
	return &Server{
		config:      cfg,
		actions:     actions,
		txs:         txs,
		rateLimiter: middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.RateLimitEnabled),
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	mux := http.NewServeMux()

	// Unauthenticated operational endpoints
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	// Conversational transport
	mux.HandleFunc("/v1/actions", s.handleActions)
	mux.HandleFunc("/v1/pin", s.handlePin)

	// Signing surface completion
	mux.HandleFunc("/v1/signatures", s.handleSignatures)

	// Account management
	mux.HandleFunc("/v1/accounts", s.handleAccounts)
	mux.HandleFunc("/v1/accounts/", s.handleAccountOperations)

	s.httpServer = &http.Server{
		Addr: fmt.Sprintf(":%d", s.config.Port),
		// Chain: RequestID -> Logging -> RateLimit -> LimitBody -> Routes
		Handler: middleware.RequestID(
			s.loggingMiddleware(
				s.rateLimiter.Limit(
					middleware.LimitBody(mux)))),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info(context.Background(), "starting server", "port", s.config.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Info(r.Context(), "request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
