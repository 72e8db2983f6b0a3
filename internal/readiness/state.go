// Package readiness decides when a supervised backend can accept work.
//
// There is no handshake with the backend. Readiness is inferred from its own
// log output (Classifier), from an optional health probe, or declared by a
// timeout (Arm) so that callers never wait forever. The State latch records
// which of those sources got there first.
package readiness

import (
	"context"
	"sync/atomic"
)

// Source identifies what declared the backend ready.
type Source string

const (
	SourceNone    Source = ""
	SourceStdout  Source = "stdout"
	SourceStderr  Source = "stderr"
	SourceTimeout Source = "timeout"
	SourceProbe   Source = "probe"
)

// Verified reports whether the source observed the backend rather than
// giving up on it.
func (s Source) Verified() bool {
	return s != SourceNone && s != SourceTimeout
}

// State is a one-way readiness latch shared by the stream watcher, the
// timeout guard and any reader. The zero value is not usable; use NewState.
type State struct {
	ready  atomic.Bool
	source atomic.Value // Source
	done   chan struct{}
}

// NewState returns a latch in the not-ready state.
func NewState() *State {
	return &State{done: make(chan struct{})}
}

// SetTrue latches the state. It returns true only for the call that made
// the transition; later calls are no-ops and keep the first source.
func (s *State) SetTrue(src Source) bool {
	if !s.ready.CompareAndSwap(false, true) {
		return false
	}
	s.source.Store(src)
	close(s.done)
	return true
}

// Get returns a non-blocking snapshot.
func (s *State) Get() bool {
	return s.ready.Load()
}

// Source returns the source that latched the state, or SourceNone.
func (s *State) Source() Source {
	// Written before done is closed.
	select {
	case <-s.done:
	default:
		return SourceNone
	}
	src, _ := s.source.Load().(Source)
	return src
}

// Done returns a channel closed once the state is ready.
func (s *State) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the state is ready or ctx is done. A ready state wins
// over an expired ctx.
func (s *State) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	default:
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
