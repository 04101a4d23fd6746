// Package catcher runs one event stream per managed endpoint and ties their
// lifetimes together.
package catcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"eventcatcher/internal/stream"
	"eventcatcher/internal/types"
)

// Runner is the part of *stream.Stream the supervisor drives.
type Runner interface {
	Run(ctx context.Context, consumer stream.Consumer) error
	Stop()
}

var _ Runner = (*stream.Stream)(nil)

type endpointRunner struct {
	name   string
	runner Runner
}

// Supervisor runs registered streams concurrently. The first stream to fail
// cancels the others and its error is returned from Run.
type Supervisor struct {
	logger  types.Logger
	tracker *Tracker

	mu      sync.Mutex
	runners []endpointRunner
	started bool
}

// NewSupervisor creates a supervisor reporting to tracker.
func NewSupervisor(tracker *Tracker, logger types.Logger) *Supervisor {
	if tracker == nil {
		tracker = NewTracker(nil)
	}
	if logger == nil {
		logger = types.NewSlogAdapter(nil)
	}
	return &Supervisor{
		logger:  logger.With("component", "supervisor"),
		tracker: tracker,
	}
}

// Add registers runner under endpoint. It must be called before Run.
func (s *Supervisor) Add(endpoint string, runner Runner) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("catcher: cannot add endpoint %q after Run", endpoint)
	}
	for _, r := range s.runners {
		if r.name == endpoint {
			return fmt.Errorf("catcher: endpoint %q registered twice", endpoint)
		}
	}

	s.runners = append(s.runners, endpointRunner{name: endpoint, runner: runner})
	s.tracker.Register(endpoint)
	return nil
}

// Run blocks until every stream has returned. It returns nil when all streams
// stopped cleanly, and otherwise the first failure wrapped with its endpoint.
func (s *Supervisor) Run(ctx context.Context, consumer stream.Consumer) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("catcher: supervisor already running")
	}
	s.started = true
	runners := append([]endpointRunner(nil), s.runners...)
	s.mu.Unlock()

	if len(runners) == 0 {
		return errors.New("catcher: no endpoints configured")
	}

	g, gCtx := errgroup.WithContext(ctx)
	for _, r := range runners {
		g.Go(func() error {
			logger := s.logger.With("endpoint", r.name)
			logger.Info("starting event stream")

			err := r.runner.Run(gCtx, consumer)
			s.tracker.Finish(r.name, err)
			if err != nil {
				logger.Error("event stream failed", "error", err.Error())
				return fmt.Errorf("endpoint %s: %w", r.name, err)
			}

			logger.Info("event stream stopped")
			return nil
		})
	}

	return g.Wait()
}

// Stop asks every stream to return after its current batch.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	runners := append([]endpointRunner(nil), s.runners...)
	s.mu.Unlock()

	for _, r := range runners {
		r.runner.Stop()
	}
}
