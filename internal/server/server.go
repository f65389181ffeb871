package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/guided-traffic/matomo-tracker/internal/config"
	"github.com/guided-traffic/matomo-tracker/internal/monitoring"
	"github.com/guided-traffic/matomo-tracker/internal/server/handlers/health"
	"github.com/guided-traffic/matomo-tracker/internal/server/middleware"
	"github.com/guided-traffic/matomo-tracker/pkg/matomo"
)

// Server is the example application with request tracking enabled
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	tracker    *matomo.Tracker
	requests   *middleware.RequestTracker
	config     *config.Config
	build      health.BuildInfo
	logger     *logrus.Entry

	// Shutdown state
	shutdownMu        sync.RWMutex
	shutdownInitiated bool
	shutdownTime      time.Time
}

// NewServer creates a new example server instance
func NewServer(cfg *config.Config, build health.BuildInfo) (*Server, error) {
	logger := logrus.WithField("component", "example-server")

	router := mux.NewRouter()

	trackerCfg := cfg.TrackerConfig()
	trackerCfg.Routes = matomo.MuxRoutes(router)
	trackerCfg.Logger = logrus.WithField("component", "matomo-tracker")
	if cfg.Monitoring.Enabled {
		trackerCfg.Observer = monitoring.TrackerObserver{}
	}

	tracker, err := matomo.New(trackerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracker: %w", err)
	}

	server := &Server{
		tracker:  tracker,
		requests: middleware.NewRequestTracker(),
		config:   cfg,
		build:    build,
		logger:   logger,
	}

	// Setup routes
	server.handler = server.setupRoutes(router)

	server.httpServer = &http.Server{
		Addr:         cfg.BindAddress,
		Handler:      server.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server, nil
}

// Handler returns the fully wired handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Tracker returns the request tracker
func (s *Server) Tracker() *matomo.Tracker {
	return s.tracker
}

// Start serves requests until ctx is cancelled, then shuts down gracefully
// and waits for pending tracking calls.
func (s *Server) Start(ctx context.Context) error {
	serverErrChan := make(chan error, 1)
	go func() {
		s.logger.WithFields(logrus.Fields{
			"address":   s.config.BindAddress,
			"collector": s.tracker.URL(),
			"async":     s.config.Tracker.Async,
		}).Info("Starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	// Wait for context cancellation or server error
	select {
	case err := <-serverErrChan:
		return err
	case <-ctx.Done():
	}

	s.markShutdown()
	s.logger.Info("Shutting down server")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.GetShutdownTimeout())
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.WithError(err).Error("Failed to gracefully shutdown server")
		return err
	}

	if err := s.tracker.Wait(shutdownCtx); err != nil {
		s.logger.WithError(err).Warn("Pending tracking calls were abandoned")
		return err
	}

	s.logger.Info("Server stopped")
	return nil
}

func (s *Server) markShutdown() {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	if !s.shutdownInitiated {
		s.shutdownInitiated = true
		s.shutdownTime = time.Now()
	}
}

// shutdownState reports whether a graceful shutdown has begun
func (s *Server) shutdownState() (bool, time.Time) {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.shutdownInitiated, s.shutdownTime
}
