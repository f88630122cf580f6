package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/solminer/internal/control"
	"github.com/muurk/solminer/internal/logging"
)

const DefaultShutdownTimeout = 10 * time.Second

// Config holds the API server configuration.
type Config struct {
	Listen  string
	HTTPLog bool

	// ShutdownTimeout bounds the graceful stop
	ShutdownTimeout time.Duration
}

// Server exposes the control surface over HTTP and streams cycle results
// to websocket clients.
type Server struct {
	config  Config
	surface control.Surface
	hub     *Hub
	http    *http.Server
}

// New creates a server. The websocket hub starts immediately so cycles can
// be published before Start.
func New(config Config, surface control.Surface) *Server {
	if config.Listen == "" {
		config.Listen = ":8080"
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}
	s := &Server{
		config:  config,
		surface: surface,
		hub:     newHub(),
	}
	go s.hub.run()

	s.http = &http.Server{
		Addr:         config.Listen,
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// PublishCycle sends a cycle result to every websocket client. Register it
// with Coordinator.OnCycle.
func (s *Server) PublishCycle(cycle control.CycleResult) {
	s.hub.broadcastJSON(cycle)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	logging.Info("Starting API server", zap.String("addr", s.config.Listen))

	errChan := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("API server failed: %w", err)
			return
		}
		errChan <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errChan:
		s.hub.stop()
		return err
	}
}

// Shutdown stops accepting requests, closes websocket clients and waits for
// in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server...")
	s.hub.stop()

	if err := s.http.Shutdown(ctx); err != nil {
		logging.Warn("Shutdown timeout, forcing close", zap.Error(err))
		return s.http.Close()
	}
	logging.Info("API server stopped")
	return nil
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	return s.hub.count()
}
