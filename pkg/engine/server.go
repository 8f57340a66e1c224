package engine

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/orbitfaas/orbit/pkg/engine/logging"
)

// Server runs the node's HTTP front.
type Server struct {
	httpAddr   string
	handlers   *Handlers
	logger     logging.Logger
	httpServer *http.Server
}

func NewServer(httpAddr string, handlers *Handlers, logger logging.Logger) *Server {
	return &Server{
		httpAddr: httpAddr,
		handlers: handlers,
		logger:   logger,
	}
}

// Start serves until ctx is done or the listener fails, then shuts down
// gracefully. Read and write timeouts are deliberately generous: invocation
// deadlines are enforced inside the dispatcher, not by the HTTP layer.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		return fmt.Errorf("failed to start HTTP listener: %w", err)
	}

	s.httpServer = &http.Server{
		Handler:      s.handlers.HTTPHandler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Printf("HTTP server listening on %s", s.httpAddr)
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Printf("Received shutdown signal, gracefully shutting down...")
		return s.shutdown()
	case err := <-errChan:
		return err
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Errorf("Error shutting down HTTP server: %v", err)
		return err
	}

	s.logger.Printf("Server shutdown complete")
	return nil
}
