// Package server exposes the pipeline over HTTP: document upload and
// processing, progress streaming, link review, and validation.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hyperlinklaw/linkengine/internal/jobs"
	"github.com/hyperlinklaw/linkengine/internal/pipeline"
	"github.com/hyperlinklaw/linkengine/internal/progress"
	"github.com/hyperlinklaw/linkengine/internal/recovery"
	"github.com/hyperlinklaw/linkengine/internal/store"
)

// Server is the linkengine HTTP server. It owns the job pool lifecycle:
// workers start with the server and drain on shutdown.
type Server struct {
	httpServer *http.Server
	store      store.Store
	pool       *jobs.Pool
	pipeline   *pipeline.Pipeline
	bus        *progress.Broadcaster
	resumer    *recovery.Resumer
	dataDir    string
	logger     *slog.Logger

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port string
	// DataDir is where uploaded PDFs are stored.
	DataDir string

	Store       store.Store
	Pool        *jobs.Pool
	Pipeline    *pipeline.Pipeline
	Broadcaster *progress.Broadcaster
	Resumer     *recovery.Resumer
	Logger      *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Store == nil || cfg.Pool == nil || cfg.Pipeline == nil {
		return nil, errors.New("store, pool, and pipeline are required")
	}

	s := &Server{
		store:    cfg.Store,
		pool:     cfg.Pool,
		pipeline: cfg.Pipeline,
		bus:      cfg.Broadcaster,
		resumer:  cfg.Resumer,
		dataDir:  cfg.DataDir,
		logger:   cfg.Logger,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:        net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		// Write timeout is generous; the SSE progress stream holds its
		// response open across an entire document run.
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start runs startup recovery, launches the workers, and serves HTTP. It
// blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	s.pool.Start(ctx)

	if s.resumer != nil {
		resumed, err := s.resumer.Resume(ctx)
		if err != nil {
			s.setNotRunning()
			return err
		}
		if resumed > 0 {
			s.logger.Info("resumed interrupted documents", "count", resumed)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			s.shutdown()
			return err
		}
	}

	s.shutdown()
	return nil
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Server) shutdown() {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.pool.Stop()
	s.setNotRunning()
	s.logger.Info("server stopped")
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// ErrorResponse is the JSON body for error statuses.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
