package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"docflow/internal/tasks"
)

// Handler describes the contract the workflow manager needs from each task
// executor. Returned errors are classified through the services markers:
// transient failures are retried with backoff, permanent failures terminate
// the task immediately.
type Handler interface {
	Execute(ctx context.Context, task *tasks.Task) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, task *tasks.Task) error

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, task *tasks.Task) error {
	return f(ctx, task)
}

// ExhaustionObserver is implemented by handlers that need to react when a
// task runs out of retries, before the task is dead-lettered.
type ExhaustionObserver interface {
	OnExhausted(ctx context.Context, task *tasks.Task, reason string)
}

// Registry maps task names to their handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a task name. Re-registering a name replaces the
// previous handler.
func (r *Registry) Register(name string, handler Handler) error {
	if name == "" {
		return fmt.Errorf("handler name is required")
	}
	if handler == nil {
		return fmt.Errorf("handler for %q is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
	return nil
}

// Lookup returns the handler registered for a task name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[name]
	return handler, ok
}

// Names returns the registered task names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
