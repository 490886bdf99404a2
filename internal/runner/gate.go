package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"winmaint/internal/host"
)

// pauseGate is the pause state shared by a run and its sessions. While
// paused the attached execution is suspended and no new action starts.
type pauseGate struct {
	logger *slog.Logger

	mu      sync.Mutex
	paused  bool
	resumed chan struct{}
	current host.Execution
}

func newPauseGate(logger *slog.Logger) *pauseGate {
	return &pauseGate{logger: logger}
}

func (g *pauseGate) pause() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return nil
	}
	g.paused = true
	g.resumed = make(chan struct{})
	return g.suspendCurrent()
}

func (g *pauseGate) resume() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return nil
	}
	g.paused = false
	close(g.resumed)
	if g.current != nil {
		return g.current.Resume()
	}
	return nil
}

func (g *pauseGate) isPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// suspendCurrent must be called with g.mu held. An execution that cannot be
// suspended keeps running and the pause takes effect before the next action.
func (g *pauseGate) suspendCurrent() error {
	if g.current == nil {
		return nil
	}
	err := g.current.Suspend()
	if errors.Is(err, host.ErrSuspendNotSupported) {
		g.logger.Warn("execution cannot be suspended, pausing after current action")
		return nil
	}
	return err
}

func (g *pauseGate) attach(ex host.Execution) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current = ex
	if g.paused {
		if err := g.suspendCurrent(); err != nil {
			g.logger.Error("suspend execution", "err", err)
		}
	}
}

func (g *pauseGate) detach() {
	g.mu.Lock()
	g.current = nil
	g.mu.Unlock()
}

// wait blocks while paused.
func (g *pauseGate) wait(ctx context.Context) error {
	g.mu.Lock()
	paused, ch := g.paused, g.resumed
	g.mu.Unlock()
	if paused {
		select {
		case <-ch:
		case <-ctx.Done():
		}
	}
	return ctx.Err()
}
