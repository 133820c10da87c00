package relay

import (
	"context"
	"sync"
	"sync/atomic"
)

// Key identifies the one active stream allowed per (user, thread) pair.
// Debug distinguishes simulated streams so a real stream and its
// simulated counterpart can coexist and be cancelled independently.
type Key struct {
	UserID   string
	ThreadID string
	Debug    bool
}

// Handle is a cooperative cancellation handle shared between the relay
// loop and the abort endpoint. It wraps a context.CancelFunc so
// provider calls stop promptly, plus a flag the relay polls to decide
// the terminal event status.
type Handle struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// NewHandle derives a cancellable context from parent and returns it
// with its handle.
func NewHandle(parent context.Context) (context.Context, *Handle) {
	ctx, cancel := context.WithCancel(parent)
	return ctx, &Handle{cancel: cancel}
}

// Cancel signals the stream to stop. Safe to call more than once.
func (h *Handle) Cancel() {
	h.cancelled.Store(true)
	h.cancel()
}

// Cancelled reports whether Cancel was called.
func (h *Handle) Cancelled() bool {
	return h.cancelled.Load()
}

// Registry is the process-wide map of active streams. It is injected
// into both the relay and the abort handler; tests construct isolated
// instances.
type Registry struct {
	mu      sync.Mutex
	streams map[Key]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{streams: make(map[Key]*Handle)}
}

// Register stores the handle for key, overwriting any previous entry.
// Last writer wins; the displaced handle is left to its own stream to
// clean up.
func (r *Registry) Register(key Key, h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[key] = h
}

// Cancel cancels and removes the stream registered under key. Returns
// false when nothing was registered, which callers treat as a normal
// outcome.
func (r *Registry) Cancel(key Key) bool {
	r.mu.Lock()
	h, ok := r.streams[key]
	if ok {
		delete(r.streams, key)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	h.Cancel()
	return true
}

// Unregister removes the entry for key if present. Idempotent.
func (r *Registry) Unregister(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, key)
}

// Len reports the number of active streams.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}
