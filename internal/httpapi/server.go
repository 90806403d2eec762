package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"telebridge/internal/logging"
)

const (
	readHeaderTimeout = 2 * time.Second
	listenPrefix      = ":"
)

// Server owns the underlying HTTP server.
type Server struct {
	server *http.Server
	logger *logrus.Entry
}

// NewServer binds handler to the provided port on all interfaces.
func NewServer(port int, handler http.Handler, logger *logrus.Entry) *Server {
	return &Server{
		logger: logging.OrDefault(logger),
		server: &http.Server{
			Addr:              fmt.Sprintf("%s%d", listenPrefix, port),
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
}

// ListenAndServe blocks until Shutdown is called or the listener fails.
func (s *Server) ListenAndServe() error {
	s.logger.WithFields(logging.Fields{
		"event": "http_listen",
		"addr":  s.server.Addr,
	}).Info("starting http server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server listen: %w", err)
	}

	s.logger.WithField("event", "http_stopped").Info("http server stopped")
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	return s.server.Shutdown(ctx)
}
