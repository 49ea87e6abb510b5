package hub

import (
	"sync"

	"go.uber.org/atomic"
)

// StopToken is a one-shot broadcast signal. The zero value is not usable;
// construct one with NewStopToken. StopToken is safe to copy: copies share
// the same underlying signal, matching the spec's "cloneable stop signal."
type StopToken struct {
	state *stopState
}

type stopState struct {
	once    sync.Once
	ch      chan struct{}
	stopped atomic.Bool
}

// NewStopToken creates a fresh, unfired stop token.
func NewStopToken() StopToken {
	return StopToken{state: &stopState{ch: make(chan struct{})}}
}

// Stop fires the signal. Idempotent: calling it more than once, from any
// number of goroutines, is safe and has no additional effect.
func (s StopToken) Stop() {
	s.state.once.Do(func() {
		s.state.stopped.Store(true)
		close(s.state.ch)
	})
}

// Done returns a channel that is closed once Stop has been called. Every
// long-lived worker polls this at its suspension points.
func (s StopToken) Done() <-chan struct{} {
	return s.state.ch
}

// Stopped reports whether Stop has already been called, without blocking.
func (s StopToken) Stopped() bool {
	return s.state.stopped.Load()
}
