package core

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"eventcatcher/internal/catcher"
)

// healthCheckTimeout bounds all probes together. A probe still running at
// the deadline is reported as timed out.
const healthCheckTimeout = 2 * time.Second

// HealthProbe is one readiness check.
type HealthProbe interface {
	// Name identifies the probe in the response, e.g. "streams".
	Name() string

	// Check returns an error if the subsystem is unhealthy. It should respect
	// the context deadline.
	Check(ctx context.Context) error
}

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

type streamsResponse struct {
	Streams []catcher.EndpointStatus `json:"streams"`
}

// HandleLive reports that the process is serving requests. It never consults
// probes.
func (s *Server) HandleLive(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
}

// HandleStreams returns the tracked state of every endpoint stream.
func (s *Server) HandleStreams(w http.ResponseWriter, r *http.Request) {
	resp := streamsResponse{Streams: []catcher.EndpointStatus{}}
	if s.Tracker != nil {
		resp.Streams = s.Tracker.Snapshot()
	}
	JSON(w, r, http.StatusOK, resp)
}

// HandleHealth runs all probes concurrently and answers 200 when every probe
// passes within healthCheckTimeout, 503 otherwise.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	probes := s.HealthProbes
	if len(probes) == 0 {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	var (
		mu      sync.Mutex
		results = make(map[int]error, len(probes))
		wg      sync.WaitGroup
	)

	for i, probe := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := runProbe(ctx, probe)

			mu.Lock()
			results[i] = err
			mu.Unlock()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()

	resp := healthResponse{
		Status:     "healthy",
		Components: make(map[string]componentStatus, len(probes)),
	}
	for i, probe := range probes {
		err, finished := results[i]
		switch {
		case !finished:
			resp.Status = "unhealthy"
			resp.Components[probe.Name()] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
		case err != nil:
			resp.Status = "unhealthy"
			resp.Components[probe.Name()] = componentStatus{Status: "unhealthy", Message: err.Error()}
		default:
			resp.Components[probe.Name()] = componentStatus{Status: "healthy"}
		}
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	JSON(w, r, status, resp)
}

func runProbe(ctx context.Context, p HealthProbe) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return p.Check(ctx)
}
