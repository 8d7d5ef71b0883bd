package events

import "sync"

// Event represents a structured state change emitted by a native engine.
type Event struct {
	Type       string
	Attributes map[string]string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(*Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(*Event) {}

// Ring retains the most recent events in a bounded buffer so the RPC layer can
// serve them without unbounded growth.
type Ring struct {
	mu  sync.Mutex
	buf []*Event
	max int
}

// NewRing constructs a ring buffer holding at most max events. A non-positive
// max falls back to a small default.
func NewRing(max int) *Ring {
	if max <= 0 {
		max = 128
	}
	return &Ring{max: max}
}

// Emit appends the event, evicting the oldest entry once the buffer is full.
func (r *Ring) Emit(evt *Event) {
	if r == nil || evt == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, evt)
	if len(r.buf) > r.max {
		r.buf = r.buf[len(r.buf)-r.max:]
	}
}

// Recent returns up to limit of the most recent events, newest first.
func (r *Ring) Recent(limit int) []*Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > len(r.buf) {
		limit = len(r.buf)
	}
	out := make([]*Event, 0, limit)
	for i := len(r.buf) - 1; i >= len(r.buf)-limit; i-- {
		out = append(out, r.buf[i])
	}
	return out
}
