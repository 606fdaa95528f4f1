package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Server serves /metrics over TCP.
type Server struct {
	cfg     Config
	handler http.Handler
	logger  *slog.Logger
}

// NewServer creates a new Server. Config defaults are applied automatically.
func NewServer(cfg Config, rec *Recorder, logger *slog.Logger) *Server {
	cfg.ApplyDefaults()
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", rec.Handler())
	return &Server{
		cfg:     cfg,
		handler: mux,
		logger:  logger.With("component", "metrics"),
	}
}

// Start runs the listener until ctx is cancelled. It returns nil at once
// when metrics are disabled.
func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.logger.Debug("metrics listener disabled")
		return nil
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("metrics: listen %s: %w", s.cfg.Listen, err)
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("metrics listener started", "listen", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("metrics shutdown", "error", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("metrics server error", "error", err)
	}
	s.logger.Info("metrics listener stopped")
	return ctx.Err()
}
