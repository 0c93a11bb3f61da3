package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/graphrest/internal/metrics"
)

// Server runs one HTTP service until its context is cancelled.
type Server struct {
	name            string
	srv             *http.Server
	shutdownTimeout time.Duration
	logger          *logrus.Entry
}

// NewServer creates a server for handler on addr.
func NewServer(name, addr string, handler http.Handler, shutdownTimeout time.Duration, logger *logrus.Entry) *Server {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &Server{
		name: name,
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		shutdownTimeout: shutdownTimeout,
		logger:          logger.WithField("service", name),
	}
}

// Run listens on the configured address and serves until ctx is done, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", ln.Addr().String()).Info("listening")
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// Health answers GET /health with the service name and its registry size.
func Health(service string, connections func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"status":      "ok",
			"service":     service,
			"connections": connections(),
		})
	}
}

// Mount registers /health and /metrics on mux.
func Mount(mux *http.ServeMux, service string, connections func() int) {
	mux.Handle("GET /health", Health(service, connections))
	mux.Handle("GET /metrics", metrics.Handler())
}
