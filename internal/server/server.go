// HTTP server initialization and lifecycle management.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hondana-dev/hondana/internal/api"
	"github.com/hondana-dev/hondana/internal/infra/config"
)

// Config holds HTTP server configuration.
type Config struct {
	Host        string
	Port        int
	ReadTimeout time.Duration
	IdleTimeout time.Duration
}

// DefaultConfig returns default HTTP server configuration.
// WriteTimeout is deliberately absent: the chat endpoint holds an event
// stream open for the whole agent run, and a write deadline would sever
// long-running streams mid-conversation.
func DefaultConfig() Config {
	return Config{
		Host:        "0.0.0.0",
		Port:        8080,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
}

// Server wraps the HTTP server and database.
type Server struct {
	config Config
	db     *sql.DB
	http   *http.Server
	log    *zap.Logger
	// stopWorkers cancels the context handed to background workers
	// spawned during routing setup (the catalog indexer).
	stopWorkers context.CancelFunc
}

// NewServer creates a new HTTP server with the given database and configuration.
func NewServer(db *sql.DB, serverCfg Config, appCfg config.Config, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	router := api.NewRouter(workerCtx, db, appCfg, log)

	httpServer := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", serverCfg.Host, serverCfg.Port),
		Handler:     router,
		ReadTimeout: serverCfg.ReadTimeout,
		IdleTimeout: serverCfg.IdleTimeout,
	}

	return &Server{
		config:      serverCfg,
		db:          db,
		http:        httpServer,
		log:         log,
		stopWorkers: stopWorkers,
	}
}

// Start starts the HTTP server and blocks until an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.log.Info("starting HTTP server", zap.String("addr", s.http.Addr))
	return s.http.ListenAndServe()
}

// Shutdown gracefully shuts down the server, stops background workers, and
// closes the database connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down server")

	s.stopWorkers()

	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("database close error: %w", err)
	}

	s.log.Info("server shutdown complete")
	return nil
}
