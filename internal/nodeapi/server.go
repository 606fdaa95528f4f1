package nodeapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
)

// Server is the local status API server. It serves HTTP over a Unix socket.
type Server struct {
	cfg    Config
	status StatusProvider
	logger *slog.Logger
}

// NewServer creates a new Server. Config defaults are applied automatically.
func NewServer(cfg Config, status StatusProvider, logger *slog.Logger) *Server {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		status: status,
		logger: logger.With("component", "nodeapi"),
	}
}

// Start runs the server. It blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if s.status == nil {
		return fmt.Errorf("nodeapi: status provider is required")
	}

	mux := NewHandler(s.status, s.logger).Mux()

	// Remove stale socket.
	os.Remove(s.cfg.SocketPath)

	if dir := filepath.Dir(s.cfg.SocketPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("nodeapi: create socket dir: %w", err)
		}
	}

	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("nodeapi: listen unix %s: %w", s.cfg.SocketPath, err)
	}
	applySocketPermissions(s.cfg.SocketPath, s.cfg.SocketGroup, s.logger)

	srv := &http.Server{Handler: mux}

	s.logger.Info("server started", "socket", s.cfg.SocketPath)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(ln); err != http.ErrServerClosed {
			s.logger.Error("unix server error", "error", err)
		}
	}()

	<-ctx.Done()

	s.logger.Info("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	srv.Shutdown(shutdownCtx)

	os.Remove(s.cfg.SocketPath)

	wg.Wait()

	s.logger.Info("server stopped")

	return ctx.Err()
}
