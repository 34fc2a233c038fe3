package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mihaisavezi/hermesllm/internal/config"
	"github.com/mihaisavezi/hermesllm/internal/handlers"
	"github.com/mihaisavezi/hermesllm/internal/middleware"
)

type Server struct {
	config *config.Manager
	logger *slog.Logger
	server *http.Server
}

func New(configManager *config.Manager, logger *slog.Logger) *Server {
	return &Server{
		config: configManager,
		logger: logger,
	}
}

// Start serves until SIGINT or SIGTERM, then shuts down gracefully.
func (s *Server) Start() error {
	cfg := s.config.Get()
	if cfg == nil {
		return errors.New("configuration not loaded")
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Starting server", "address", addr, "providers", len(cfg.Providers))

	errCh := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}

	s.logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("Server exited")

	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Handler returns the routed, middleware-wrapped proxy.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	proxyHandler := handlers.NewProxyHandler(s.config, s.logger)
	healthHandler := handlers.NewHealthHandler(s.config, s.logger)
	providersHandler := handlers.NewProvidersHandler(s.config, s.logger)

	middlewareSet := middleware.NewMiddlewareSet(s.config, s.logger)
	api := middlewareSet.DefaultChain().Handler(proxyHandler)

	mux.Handle("GET /health", middlewareSet.HealthChain().Handler(healthHandler))
	mux.Handle("GET /v1/providers", middlewareSet.DefaultChain().Handler(providersHandler))
	mux.Handle("POST /v1/chat/completions", api)
	mux.Handle("POST /v1/messages", api)
	// Gemini paths end in :generateContent or :streamGenerateContent; the
	// proxy rejects anything else under the prefix.
	mux.Handle("POST /v1beta/models/", api)

	return mux
}
