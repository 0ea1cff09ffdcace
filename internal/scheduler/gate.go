package scheduler

import (
	"context"
	"sync"
	"time"
)

// gate admits one run of a job at a time and remembers when the current
// run started, so an overlapping tick can say how long it has been busy.
type gate struct {
	slot chan struct{}

	mu      sync.Mutex
	started time.Time
}

func newGate() *gate {
	return &gate{slot: make(chan struct{}, 1)}
}

// tryEnter claims the gate without waiting.
func (g *gate) tryEnter(now time.Time) bool {
	select {
	case g.slot <- struct{}{}:
		g.mark(now)
		return true
	default:
		return false
	}
}

// enter waits for the gate until ctx ends.
func (g *gate) enter(ctx context.Context, now func() time.Time) error {
	select {
	case g.slot <- struct{}{}:
		g.mark(now())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gate) mark(t time.Time) {
	g.mu.Lock()
	g.started = t
	g.mu.Unlock()
}

func (g *gate) leave() {
	g.mark(time.Time{})
	<-g.slot
}

// busyFor reports how long the current run has been going, or 0 when idle.
func (g *gate) busyFor(now time.Time) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started.IsZero() {
		return 0
	}
	return now.Sub(g.started)
}
