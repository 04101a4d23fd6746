package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"eventcatcher/internal/catcher"
)

// StreamProbe fails when any stream has failed or has not polled for longer
// than StaleAfter.
type StreamProbe struct {
	Tracker    *catcher.Tracker
	StaleAfter time.Duration
}

func (p *StreamProbe) Name() string { return "streams" }

func (p *StreamProbe) Check(context.Context) error {
	var failed []string
	for _, st := range p.Tracker.Snapshot() {
		if st.State == catcher.StateFailed {
			failed = append(failed, st.Endpoint)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("streams failed: %s", strings.Join(failed, ", "))
	}

	if stale := p.Tracker.Stale(p.StaleAfter); len(stale) > 0 {
		return fmt.Errorf("streams not polling for over %s: %s", p.StaleAfter, strings.Join(stale, ", "))
	}
	return nil
}

// BreakerState is implemented by components guarded by a circuit breaker,
// such as queue.SQSAcknowledger.
type BreakerState interface {
	State() gobreaker.State
}

// BreakerProbe fails while the named breaker is open.
type BreakerProbe struct {
	Component string
	Breaker   BreakerState
}

func (p *BreakerProbe) Name() string { return p.Component }

func (p *BreakerProbe) Check(context.Context) error {
	if state := p.Breaker.State(); state == gobreaker.StateOpen {
		return fmt.Errorf("circuit breaker %s", state)
	}
	return nil
}
