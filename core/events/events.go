package events

import (
	"sync"

	"workchain/core/types"
)

// Emitter receives canonical events from the native engines.
type Emitter interface {
	Emit(evt *types.Event)
}

// NoopEmitter drops every event. Engines fall back to it when no emitter is
// configured.
type NoopEmitter struct{}

func (NoopEmitter) Emit(*types.Event) {}

// Recorder buffers emitted events in memory. The node drains it after each
// committed call; tests inspect it directly.
type Recorder struct {
	mu     sync.Mutex
	events []*types.Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Emit(evt *types.Event) {
	if r == nil || evt == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

// Drain returns the buffered events and clears the buffer.
func (r *Recorder) Drain() []*types.Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

// Events returns a snapshot without clearing.
func (r *Recorder) Events() []*types.Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.Event, len(r.events))
	copy(out, r.events)
	return out
}
