package eventloop

import (
	"context"
	"sync"
)

// Signal is a one-shot event. It starts unresolved and can be resolved
// exactly once; every waiter, present or future, observes the resolution.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

// NewSignal returns an unresolved Signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Resolve resolves the signal. It reports whether this call did it; later
// calls are no-ops and return false.
func (s *Signal) Resolve() bool {
	resolved := false
	s.once.Do(func() {
		close(s.ch)
		resolved = true
	})
	return resolved
}

// Done returns a channel that is closed once the signal is resolved.
func (s *Signal) Done() <-chan struct{} {
	return s.ch
}

// Resolved reports whether the signal has been resolved.
func (s *Signal) Resolved() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until the signal resolves or ctx is done. Called from a unit
// of work it suspends instead of holding the loop.
func (s *Signal) Wait(ctx context.Context) error {
	return Await(ctx, s.ch)
}
