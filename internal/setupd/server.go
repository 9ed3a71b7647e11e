// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-docsign.
//
// go-docsign is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package setupd implements the elevated setup daemon and its client.
// The daemon runs with the privileges needed to talk to the hardware
// module's owner hierarchy and listens on a root-owned unix socket.
// Standard-privilege processes never share in-memory key handles with
// it; keys cross the boundary only as serialized descriptors and
// envelopes.
package setupd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/jeremyhahn/go-docsign/pkg/docsign"
	"github.com/jeremyhahn/go-docsign/pkg/logging"
	"github.com/jeremyhahn/go-docsign/pkg/metrics"
)

// DefaultSocketPath is the default path for the setup daemon socket.
const DefaultSocketPath = "/var/run/docsign/setupd.sock"

// Config holds the setup daemon configuration.
type Config struct {
	// SocketPath is the path to the unix socket file.
	SocketPath string

	// SocketMode is the file mode for the socket (default: 0600).
	SocketMode os.FileMode

	// RequestsPerMin caps the request rate across all callers.
	RequestsPerMin int

	// ReadTimeout is the maximum duration for reading requests.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration for writing responses.
	WriteTimeout time.Duration

	// Service is the document signing service the daemon fronts.
	Service *docsign.Service

	// Logger is the logging adapter.
	Logger *logging.Logger
}

// Server is the elevated setup daemon.
type Server struct {
	config   *Config
	server   *http.Server
	listener net.Listener
	router   chi.Router
	logger   *logging.Logger
	limiter  *rate.Limiter

	// credentials resolves the peer identity of a connection. It is a
	// field so tests can inject a stub instead of a real unix socket.
	credentials peerCredentialFunc

	mu sync.RWMutex
}

// NewServer creates a setup daemon over the given service.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("setupd: config is required")
	}
	if cfg.Service == nil {
		return nil, fmt.Errorf("setupd: service is required")
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultSocketPath
	}
	if cfg.SocketMode == 0 {
		cfg.SocketMode = 0o600
	}
	if cfg.RequestsPerMin == 0 {
		cfg.RequestsPerMin = 60
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.DefaultLogger()
	}

	s := &Server{
		config:      cfg,
		logger:      cfg.Logger,
		router:      chi.NewRouter(),
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerMin)/60, cfg.RequestsPerMin),
		credentials: socketPeerCredentials,
	}

	s.setupRoutes()
	return s, nil
}

// setupRoutes configures the HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(s.recordMetrics)
	s.router.Use(s.rateLimit)

	handlers := &handlerContext{
		service: s.config.Service,
		logger:  s.logger,
	}

	s.router.Get("/health", handlers.healthHandler)

	// Setup operations require an elevated peer; capability probing
	// does not.
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/capability", handlers.capabilityHandler)

		r.Route("/setup", func(r chi.Router) {
			r.Use(s.requireElevatedPeer)
			r.Post("/keys", handlers.createKeyHandler)
			r.Post("/reseal", handlers.resealHandler)
		})
	})
}

// recordMetrics counts requests by method and status code.
func (s *Server) recordMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		metrics.RecordHTTPRequest(r.Method, strconv.Itoa(ww.Status()))
	})
}

// rateLimit rejects requests beyond the configured rate.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, fmt.Errorf("setupd: rate limit exceeded"), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start creates the socket and serves until Stop is called. The socket
// directory is created with mode 0700 and the socket itself with the
// configured mode so only the owning user can reach the daemon.
func (s *Server) Start() error {
	socketDir := filepath.Dir(s.config.SocketPath)
	if err := os.MkdirAll(socketDir, 0o700); err != nil {
		return fmt.Errorf("setupd: failed to create socket directory: %w", err)
	}

	if err := os.Remove(s.config.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("setupd: failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", s.config.SocketPath)
	if err != nil {
		return fmt.Errorf("setupd: failed to create unix socket listener: %w", err)
	}
	s.listener = listener

	if err := os.Chmod(s.config.SocketPath, s.config.SocketMode); err != nil {
		_ = s.listener.Close()
		return fmt.Errorf("setupd: failed to set socket permissions: %w", err)
	}

	s.mu.Lock()
	s.server = &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       120 * time.Second,
		ConnContext:       stashConn,
	}
	s.mu.Unlock()

	s.logger.Infof("setupd: listening on %s", s.config.SocketPath)

	if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("setupd: server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the daemon and removes the socket file.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Errorf("setupd: shutdown error: %v", err)
			return err
		}
	}

	if err := os.Remove(s.config.SocketPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warnf("setupd: failed to remove socket file: %v", err)
	}

	s.logger.Info("setupd: stopped")
	return nil
}

// SocketPath returns the path to the unix socket.
func (s *Server) SocketPath() string {
	return s.config.SocketPath
}

// Handler exposes the router for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
