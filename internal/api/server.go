package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/correlator-io/retail-analytics/internal/api/middleware"
	"github.com/correlator-io/retail-analytics/internal/config"
	"github.com/correlator-io/retail-analytics/internal/metrics"
	"github.com/correlator-io/retail-analytics/internal/pipeline"
)

// ErrNoEngine is returned when NewServer is called without a metrics engine.
var ErrNoEngine = errors.New("metrics engine is required")

type (
	// HealthChecker reports whether the backing store can serve queries.
	HealthChecker interface {
		HealthCheck(ctx context.Context) error
	}

	// Dependencies are the runtime collaborators of the server.
	Dependencies struct {
		Engine *metrics.Engine
		Health HealthChecker       // nil reports always ready
		Runs   pipeline.RunHistory // nil disables /api/v1/pipeline/runs
		Logger *slog.Logger        // nil logs JSON to stdout at cfg.LogLevel
	}

	// Server represents the HTTP API server.
	Server struct {
		httpServer  *http.Server
		handler     http.Handler
		logger      *slog.Logger
		config      *ServerConfig
		startTime   time.Time
		engine      *metrics.Engine
		health      HealthChecker
		runs        pipeline.RunHistory
		rateLimiter middleware.RateLimiter
	}
)

// NewServer creates a server with the full middleware stack.
// rateLimiter may be nil to disable rate limiting.
func NewServer(cfg *ServerConfig, deps Dependencies, rateLimiter middleware.RateLimiter) (*Server, error) {
	if deps.Engine == nil {
		return nil, ErrNoEngine
	}

	logger := deps.Logger
	if logger == nil {
		logger = config.NewLogger("json", cfg.LogLevel)
	}

	mux := http.NewServeMux()

	server := &Server{
		logger:      logger,
		config:      cfg,
		engine:      deps.Engine,
		health:      deps.Health,
		runs:        deps.Runs,
		rateLimiter: rateLimiter,
	}

	server.setupRoutes(mux)

	if rateLimiter != nil {
		logger.Info("Rate limiting middleware enabled")
	} else {
		logger.Warn("RateLimiter not configured - rate limiting middleware disabled")
	}

	server.handler = middleware.Stack{
		Logger:  logger,
		Limiter: rateLimiter,
		CORS:    cfg.ToCORSConfig(),
	}.Wrap(mux)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      server.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server and blocks until shutdown.
// It handles graceful shutdown on SIGINT and SIGTERM signals.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	defer signal.Stop(stop)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("Starting retail analytics API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("query_timeout", s.config.QueryTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server failed to start",
				slog.String("address", s.config.Address()),
				slog.String("error", err.Error()),
			)

			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

		return s.shutdown()
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Initiating server shutdown",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
	)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown failed",
			slog.String("error", err.Error()),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// InMemoryRateLimiter runs a cleanup goroutine.
	if limiter, ok := s.rateLimiter.(io.Closer); ok {
		if err := limiter.Close(); err != nil {
			s.logger.Error("Failed to close rate limiter", slog.String("error", err.Error()))
		}
	}

	s.logger.Info("Server shutdown completed successfully")

	return nil
}
