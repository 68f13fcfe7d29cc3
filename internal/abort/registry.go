// Package abort tracks per-task cancellation tokens. At most one
// orchestrator run may be active per task id; registering a new token
// for a task aborts and discards any prior one first.
package abort

import (
	"context"
	"sync"
)

// Registry maps task ids to cancellation tokens.
type Registry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{cancels: make(map[string]context.CancelFunc)}
}

// Register derives a cancellable context for the task. Any previously
// registered token for the same task id is aborted before the new one is
// returned, so two runs of one task can never overlap.
func (r *Registry) Register(parent context.Context, taskID string) context.Context {
	ctx, cancel := context.WithCancel(parent)

	r.mu.Lock()
	if prev, ok := r.cancels[taskID]; ok {
		prev()
	}
	r.cancels[taskID] = cancel
	r.mu.Unlock()

	return ctx
}

// Abort cancels the active run for a task, if any. Returns whether a
// token was found.
func (r *Registry) Abort(taskID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[taskID]
	if ok {
		delete(r.cancels, taskID)
	}
	r.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// AbortAll cancels every active run. Used on shutdown and by the
// wizard's chat-wide cancel action.
func (r *Registry) AbortAll() {
	r.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.cancels))
	for id, cancel := range r.cancels {
		cancels = append(cancels, cancel)
		delete(r.cancels, id)
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// Release drops the token for a task without aborting it. Called when a
// run finishes on its own.
func (r *Registry) Release(taskID string) {
	r.mu.Lock()
	delete(r.cancels, taskID)
	r.mu.Unlock()
}

// Active reports whether a run is registered for the task.
func (r *Registry) Active(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cancels[taskID]
	return ok
}
