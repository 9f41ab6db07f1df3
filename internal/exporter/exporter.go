// Package exporter provides the ops HTTP server: Prometheus metrics and
// health endpoints for the sink pipeline.
package exporter

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/copjon/slab-sinks/internal/constants"
)

// Server exposes Prometheus metrics and health endpoints.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	ready      atomic.Bool
}

// New creates an ops server listening on the given address.
func New(addr string, logger *zap.Logger) *Server {
	s := &Server{
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.Handle(constants.PathMetrics, promhttp.Handler())
	mux.HandleFunc(constants.PathHealthz, s.handleHealthz)
	mux.HandleFunc(constants.PathReadyz, s.handleReadyz)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  constants.HTTPReadTimeout,
		WriteTimeout: constants.HTTPWriteTimeout,
		IdleTimeout:  constants.HTTPIdleTimeout,
	}

	return s
}

// SetReady marks the server as ready to serve traffic.
// Call this once the sink and its transport are wired.
func (s *Server) SetReady() {
	s.ready.Store(true)
}

// Run starts the HTTP server. It blocks until the context is cancelled
// or the server encounters a fatal error.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting ops server",
		zap.String("addr", s.httpServer.Addr),
		zap.String("metrics_path", constants.PathMetrics))

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down ops server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ExporterShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("ops server shutdown error", zap.Error(err))
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ops server failed: %w", err)
	}

	return nil
}

// handleHealthz is a liveness endpoint; 200 whenever the process is up.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// handleReadyz returns 200 only after SetReady() is called.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready.Load() {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready\n"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready\n"))
	}
}
