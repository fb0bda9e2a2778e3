// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-tpmsecret.
//
// go-tpmsecret is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package rest serves the tpmsecret status, health and metrics endpoints.
package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jeremyhahn/go-tpmsecret/pkg/health"
	"github.com/jeremyhahn/go-tpmsecret/pkg/logging"
	"github.com/jeremyhahn/go-tpmsecret/pkg/status"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the status server.
type Server struct {
	server   *http.Server
	handlers *HandlerContext
	listen     string
	socketMode os.FileMode
	logger     *logging.Logger
}

// Config holds the status server configuration.
type Config struct {
	// Listen is the address to listen on (default: 127.0.0.1:8420). A
	// "unix:" prefix selects a unix domain socket.
	Listen string

	// SocketMode is the file mode of a unix socket (default: 0660)
	SocketMode os.FileMode

	StatusPath  string
	HealthPath  string
	MetricsPath string

	// MetricsEnabled mounts the Prometheus handler.
	MetricsEnabled bool

	// Device is the TPM reported by the status endpoint (optional)
	Device status.Device

	// HealthChecker answers the health probes (optional)
	HealthChecker *health.Checker

	Logger *logging.Logger

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewServer creates a new status server.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:8420"
	}
	if cfg.StatusPath == "" {
		cfg.StatusPath = "/status"
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/health"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.SocketMode == 0 {
		cfg.SocketMode = 0660
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.DefaultLogger()
	}

	s := &Server{
		handlers: &HandlerContext{
			Device:        cfg.Device,
			HealthChecker: cfg.HealthChecker,
		},
		listen:     cfg.Listen,
		socketMode: cfg.SocketMode,
		logger:     cfg.Logger,
	}
	s.server = &http.Server{
		Addr:         cfg.Listen,
		Handler:      s.setupRouter(cfg),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter(cfg *Config) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.InstrumentMiddleware())
	r.Use(s.RecoveryMiddleware())

	r.Get(cfg.StatusPath, s.handlers.StatusHandler)

	r.Get(cfg.HealthPath, s.handlers.ReadinessHandler)
	r.Get(cfg.HealthPath+"/live", s.handlers.LivenessHandler)
	r.Get(cfg.HealthPath+"/ready", s.handlers.ReadinessHandler)
	r.Get(cfg.HealthPath+"/startup", s.handlers.StartupHandler)

	if cfg.MetricsEnabled {
		r.Handle(cfg.MetricsPath, promhttp.Handler())
	}
	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens and serves until Stop is called.
func (s *Server) Start() error {
	if path, ok := socketPath(s.listen); ok {
		ln, err := listenUnix(path, s.socketMode)
		if err != nil {
			return err
		}
		return s.Serve(ln)
	}
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listen, err)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Starting status server", "addr", ln.Addr().String())
	if s.handlers.HealthChecker != nil {
		s.handlers.HealthChecker.MarkStarted()
	}
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down status server")
	if s.handlers.HealthChecker != nil {
		s.handlers.HealthChecker.MarkNotStarted()
	}
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error(err)
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	if path, ok := socketPath(s.listen); ok {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warnf("Failed to remove socket file: %v", err)
		}
	}
	s.logger.Info("Status server stopped")
	return nil
}
