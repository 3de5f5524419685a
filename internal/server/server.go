// File: internal/server/server.go
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/fetchproxy/internal/config"
	"github.com/xkilldash9x/fetchproxy/internal/metrics"
)

// Server hosts the fetch proxy over HTTP.
type Server struct {
	cfg      config.ServerConfig
	logger   *zap.Logger
	handlers *Handlers
	metrics  *metrics.Metrics
}

// New wires a server around exec. m may be nil, in which case /metrics is
// not served.
func New(cfg config.ServerConfig, exec Executor, m *metrics.Metrics, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")
	return &Server{
		cfg:      cfg,
		logger:   logger,
		handlers: NewHandlers(logger, exec, version, cfg.MaxBodyBytes),
		metrics:  m,
	}
}

// Router builds the chi router with the full middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	var fetchMiddleware []func(http.Handler) http.Handler
	if s.cfg.RateLimit > 0 {
		limiter := rate.NewLimiter(rate.Limit(s.cfg.RateLimit), s.cfg.RateBurst)
		fetchMiddleware = append(fetchMiddleware, rateLimit(limiter, s.logger))
	}
	s.handlers.RegisterRoutes(r, fetchMiddleware...)

	return r
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, l)
}

// Serve accepts connections on l until ctx is cancelled, then shuts down
// gracefully, letting in-flight executions finish within the shutdown timeout.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	if s.cfg.MaxConnections > 0 {
		l = netutil.LimitListener(l, s.cfg.MaxConnections)
	}

	httpServer := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ErrorLog:          zap.NewStdLog(s.logger),
	}

	s.logger.Info("Fetch proxy listening.", zap.String("address", l.Addr().String()))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(l)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server stopped: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Received shutdown signal, shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
		_ = httpServer.Close()
		<-serveErr
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	<-serveErr
	s.logger.Info("Fetch proxy stopped.")
	return nil
}
