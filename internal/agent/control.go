// internal/agent/control.go
package agent

import (
	"context"
	"sync"
)

// PauseController is a resettable gate. While paused, Wait blocks until
// Resume is called or the caller's context is cancelled.
type PauseController struct {
	mu     sync.Mutex
	paused bool
	// resumed is closed whenever the gate is open.
	resumed chan struct{}
}

// NewPauseController returns an open gate.
func NewPauseController() *PauseController {
	ch := make(chan struct{})
	close(ch)
	return &PauseController{resumed: ch}
}

// Pause closes the gate. It reports whether the state changed.
func (p *PauseController) Pause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return false
	}
	p.paused = true
	p.resumed = make(chan struct{})
	return true
}

// Resume opens the gate and releases every waiter. It reports whether the
// state changed.
func (p *PauseController) Resume() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		return false
	}
	p.paused = false
	close(p.resumed)
	return true
}

// Paused reports the current state.
func (p *PauseController) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Wait returns nil once the gate is open, or a CancellationError if ctx is
// cancelled first. Cancellation takes priority when both are ready.
func (p *PauseController) Wait(ctx context.Context) error {
	if err := cancellationFrom(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	ch := p.resumed
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return cancellationFrom(ctx)
	case <-ch:
		return cancellationFrom(ctx)
	}
}
