// Package server implements the Threatscope HTTP server.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brad07/threatscope/pkg/alert"
	"github.com/brad07/threatscope/pkg/api"
	"github.com/brad07/threatscope/pkg/detector"
	"github.com/brad07/threatscope/pkg/registry"
	"github.com/brad07/threatscope/pkg/risk"
)

// Config holds server configuration.
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// MaxUploadBytes caps request bodies.
	MaxUploadBytes int64

	// RateLimitRPS and RateLimitBurst configure per-client rate limiting.
	// Zero RPS disables it.
	RateLimitRPS   float64
	RateLimitBurst int
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            7676,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxUploadBytes:  25 << 20,
		RateLimitRPS:    20,
		RateLimitBurst:  40,
	}
}

// Analyzer runs an analysis.
type Analyzer interface {
	Run(ctx context.Context, in *detector.Input) (*risk.Report, error)
}

// Detectors exposes registry state.
type Detectors interface {
	States() []registry.State
	State(c detector.Capability) (registry.State, bool)
	ReadyCount() int
}

// Reloader reloads one capability from its configured source.
type Reloader interface {
	Reload(ctx context.Context, c detector.Capability) error
}

// Server represents the Threatscope HTTP server.
type Server struct {
	config     Config
	analyzer   Analyzer
	detectors  Detectors
	logger     *slog.Logger
	httpServer *http.Server
	listener   net.Listener
	limiter    *clientLimiter

	mu       sync.RWMutex
	running  bool
	reloader Reloader
	alerts   alert.Querier
	builtins []string
}

// New creates a new server with the given configuration.
func New(config Config, analyzer Analyzer, detectors Detectors, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = DefaultConfig().MaxUploadBytes
	}
	s := &Server{
		config:    config,
		analyzer:  analyzer,
		detectors: detectors,
		logger:    logger,
	}
	if config.RateLimitRPS > 0 {
		s.limiter = newClientLimiter(config.RateLimitRPS, config.RateLimitBurst)
	}
	return s
}

// SetReloader enables POST /v1/detectors/{capability}/reload.
func (s *Server) SetReloader(r Reloader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloader = r
}

// SetAlerts enables the alert listing endpoints.
func (s *Server) SetAlerts(q alert.Querier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = q
}

// SetBuiltins sets the builtin detector names listed by GET /v1/detectors.
func (s *Server) SetBuiltins(names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builtins = append([]string(nil), names...)
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	var h http.Handler = mux
	if s.limiter != nil {
		h = s.rateLimitMiddleware(h)
	}
	return s.loggingMiddleware(s.recoverMiddleware(h))
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()

	addr := net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.config.WriteTimeout,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("server listening", "addr", "http://"+listener.Addr().String())

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the actual address the server is listening on.
// This is useful when the server was started with port 0 (random port).
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))
}

// registerRoutes registers all API routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /v1/analyze", s.handleAnalyze)
	mux.HandleFunc("POST /v1/analyze/text", s.handleAnalyzeText)
	mux.HandleFunc("POST /v1/analyze/file", s.handleAnalyzeFile)

	mux.HandleFunc("GET /v1/detectors", s.handleListDetectors)
	mux.HandleFunc("POST /v1/detectors/{capability}/reload", s.handleReloadDetector)

	mux.HandleFunc("GET /v1/alerts", s.handleListAlerts)
	mux.HandleFunc("GET /v1/alerts/{id}", s.handleGetAlert)
}

// loggingMiddleware logs all requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.statusCode,
			"duration", time.Since(start))
	})
}

// recoverMiddleware turns a handler panic into a 500.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("handler panicked", "path", r.URL.Path, "panic", p)
				api.WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
