// Package core provides the operational HTTP surface of the event catcher:
// liveness and readiness probes plus a per-endpoint stream status view. It is
// a chi router served next to the poll loops; event delivery never depends on
// it.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"eventcatcher/internal/catcher"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Server encapsulates the health endpoint dependencies, allowing for easy
// injection during testing.
type Server struct {
	Logger       *slog.Logger
	HealthProbes []HealthProbe
	Tracker      *catcher.Tracker

	router *chi.Mux
}

// NewServer builds the router and mounts all routes. tracker may be nil when
// no streams run in this process.
func NewServer(logger *slog.Logger, tracker *catcher.Tracker, probes ...HealthProbe) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Logger:       logger,
		HealthProbes: probes,
		Tracker:      tracker,
		router:       chi.NewRouter(),
	}
	s.MountRoutes()
	return s, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.serve(ctx, lis)
}

func (s *Server) serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("health server listening", "addr", lis.Addr().String())
		errCh <- srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.Logger.Info("health server shutdown initiated")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("health server shutdown: %w", err)
	}
	return nil
}
