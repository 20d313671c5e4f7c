// Package sampler rate-limits high-frequency continuous input events.
//
// Discrete events pass through untouched. Continuous events sharing a
// coalescing key are collapsed so at most one is emitted per window, latest
// value wins. Keys never affect each other's buffering.
package sampler

import (
	"sync"
	"time"

	"github.com/teacurran/WireTuner-sub012/internal/event"
)

// DefaultWindow bounds emission frequency for continuous input.
const DefaultWindow = 50 * time.Millisecond

// Emit receives sampled events downstream.
type Emit func(event.Input)

// Sampler coalesces continuous events per key.
type Sampler struct {
	window time.Duration
	emit   Emit

	mu      sync.Mutex
	pending map[string]event.Input
	timers  map[string]*time.Timer
}

// New creates a sampler emitting into emit. A non-positive window falls back
// to DefaultWindow.
func New(window time.Duration, emit Emit) *Sampler {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Sampler{
		window:  window,
		emit:    emit,
		pending: make(map[string]event.Input),
		timers:  make(map[string]*time.Timer),
	}
}

// Submit routes one input event. Continuous events wait out the current
// window for their key; intermediate values are discarded.
func (s *Sampler) Submit(in event.Input) {
	if s == nil || s.emit == nil {
		return
	}
	if !in.Continuous || in.CoalesceKey == "" {
		s.emit(in)
		return
	}

	s.mu.Lock()
	s.pending[in.CoalesceKey] = in
	if _, armed := s.timers[in.CoalesceKey]; !armed {
		key := in.CoalesceKey
		s.timers[key] = time.AfterFunc(s.window, func() { s.fire(key) })
	}
	s.mu.Unlock()
}

// Flush forces immediate emission of all buffered events. Pointer-release
// handlers call this so the final drag position is never delayed.
func (s *Sampler) Flush() {
	if s == nil {
		return
	}
	s.mu.Lock()
	flushed := make([]event.Input, 0, len(s.pending))
	for key, in := range s.pending {
		flushed = append(flushed, in)
		if timer := s.timers[key]; timer != nil {
			timer.Stop()
		}
		delete(s.pending, key)
		delete(s.timers, key)
	}
	s.mu.Unlock()

	for _, in := range flushed {
		s.emit(in)
	}
}

func (s *Sampler) fire(key string) {
	s.mu.Lock()
	in, ok := s.pending[key]
	delete(s.pending, key)
	delete(s.timers, key)
	s.mu.Unlock()

	if ok {
		s.emit(in)
	}
}
