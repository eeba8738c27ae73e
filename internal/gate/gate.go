// Package gate provides the pause/resume/cancel checkpoint shared by the
// enumerator and every hashing worker.
package gate

import (
	"context"
	"errors"
	"sync"
)

// ErrCancelled is returned by WaitIfPaused once Cancel has been called.
var ErrCancelled = errors.New("run cancelled")

// Gate is a two-state (running, paused) wait point with a one-shot
// cancellation signal layered on top. The zero value is not usable; call New.
type Gate struct {
	mu      sync.Mutex
	resume  chan struct{} // nil while running; closed by Resume
	done    chan struct{}
	stopped bool
}

// New returns a running, uncancelled gate.
func New() *Gate {
	return &Gate{done: make(chan struct{})}
}

// WaitIfPaused returns nil immediately while running. While paused it blocks
// until Resume, Cancel or ctx ends. It returns ErrCancelled after Cancel
// regardless of the pause state.
func (g *Gate) WaitIfPaused(ctx context.Context) error {
	g.mu.Lock()
	resume, done := g.resume, g.done
	g.mu.Unlock()

	select {
	case <-done:
		return ErrCancelled
	default:
	}
	if resume == nil {
		return ctx.Err()
	}

	select {
	case <-resume:
		// Cancel may have raced with Resume.
		select {
		case <-done:
			return ErrCancelled
		default:
			return nil
		}
	case <-done:
		return ErrCancelled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pause makes subsequent WaitIfPaused calls block. Pausing twice is a no-op.
func (g *Gate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resume == nil && !g.stopped {
		g.resume = make(chan struct{})
	}
}

// Resume releases every blocked waiter. Resuming a running gate is a no-op.
func (g *Gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resume != nil {
		close(g.resume)
		g.resume = nil
	}
}

// Cancel fires the one-shot cancellation signal and wakes every waiter.
func (g *Gate) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return
	}
	g.stopped = true
	close(g.done)
	if g.resume != nil {
		close(g.resume)
		g.resume = nil
	}
}

// Paused reports whether the gate is currently paused.
func (g *Gate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resume != nil
}

// Cancelled reports whether Cancel has been called.
func (g *Gate) Cancelled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopped
}

// Done is closed when Cancel is called.
func (g *Gate) Done() <-chan struct{} {
	return g.done
}
