package catcher

import (
	"context"
	"sort"
	"sync"
	"time"

	"eventcatcher/internal/types"
)

// State is the lifecycle phase of one endpoint stream.
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateStopped State = "stopped"
	StateFailed  State = "failed"
)

// EndpointStatus is a point-in-time view of one stream.
type EndpointStatus struct {
	Endpoint string    `json:"endpoint"`
	State    State     `json:"state"`
	LastPoll time.Time `json:"last_poll,omitzero"`
	Error    string    `json:"error,omitempty"`
}

// Tracker records stream liveness. Streams report through Beat (wired as the
// stream's before-poll hook) and the supervisor reports lifecycle changes.
type Tracker struct {
	mu     sync.RWMutex
	clock  types.Clock
	status map[string]*EndpointStatus
}

// NewTracker creates an empty tracker. A nil clock uses the system clock.
func NewTracker(clock types.Clock) *Tracker {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Tracker{
		clock:  clock,
		status: make(map[string]*EndpointStatus),
	}
}

// Register adds endpoint in StatePending.
func (t *Tracker) Register(endpoint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.status[endpoint]; !ok {
		t.status[endpoint] = &EndpointStatus{Endpoint: endpoint, State: StatePending}
	}
}

// BeatFunc returns a before-poll hook that marks endpoint alive. The stream
// skips the hook while fetches fail, so a throttled endpoint goes stale.
func (t *Tracker) BeatFunc(endpoint string) func(ctx context.Context) {
	return func(context.Context) {
		t.Beat(endpoint)
	}
}

// Beat marks endpoint as running and polled now.
func (t *Tracker) Beat(endpoint string) {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.entry(endpoint)
	st.State = StateRunning
	st.LastPoll = now
}

// Finish records the terminal state of endpoint.
func (t *Tracker) Finish(endpoint string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.entry(endpoint)
	if err != nil {
		st.State = StateFailed
		st.Error = err.Error()
		return
	}
	st.State = StateStopped
}

// Snapshot returns all statuses sorted by endpoint name.
func (t *Tracker) Snapshot() []EndpointStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]EndpointStatus, 0, len(t.status))
	for _, st := range t.status {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

// Stale returns the running endpoints whose last poll is older than maxAge.
// A long poll holds the loop for up to the configured wait time, so maxAge
// must exceed it.
func (t *Tracker) Stale(maxAge time.Duration) []string {
	now := t.clock.Now()

	t.mu.RLock()
	defer t.mu.RUnlock()

	var stale []string
	for name, st := range t.status {
		if st.State == StateRunning && now.Sub(st.LastPoll) > maxAge {
			stale = append(stale, name)
		}
	}
	sort.Strings(stale)
	return stale
}

func (t *Tracker) entry(endpoint string) *EndpointStatus {
	st, ok := t.status[endpoint]
	if !ok {
		st = &EndpointStatus{Endpoint: endpoint}
		t.status[endpoint] = st
	}
	return st
}
