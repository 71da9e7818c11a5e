package async

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/chorus/jobs/errors"
)

// JobHandler executes one kind of job. Domain packages implement it and
// decode their own payloads; the queue only routes by Name.
type JobHandler interface {
	// Execute runs the job. Handlers should watch ctx and return promptly
	// when it is cancelled; the worker re-queues the job in that case.
	Execute(ctx context.Context, job *Job) error

	// Name is the handler name jobs are routed by, e.g. "plan.run".
	Name() string
}

// HandlerFunc adapts a function to JobHandler.
type HandlerFunc struct {
	HandlerName string
	Fn          func(ctx context.Context, job *Job) error
}

func (h HandlerFunc) Execute(ctx context.Context, job *Job) error {
	return h.Fn(ctx, job)
}

func (h HandlerFunc) Name() string {
	return h.HandlerName
}

// JobExecutor runs a job by whatever means.
type JobExecutor interface {
	Execute(ctx context.Context, job *Job) error
}

// HandlerRegistry manages job handlers by name.
// Thread-safe for concurrent handler registration and lookup.
type HandlerRegistry struct {
	handlers map[string]JobHandler
	mu       sync.RWMutex
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]JobHandler),
	}
}

// Register adds a handler using its name.
// Panics if a handler is already registered with that name.
func (r *HandlerRegistry) Register(handler JobHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := handler.Name()
	if _, exists := r.handlers[name]; exists {
		panic(fmt.Sprintf("handler already registered for name: %s", name))
	}
	r.handlers[name] = handler
}

// Get retrieves the handler for a name, or nil.
func (r *HandlerRegistry) Get(name string) JobHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[name]
}

// Has checks if a handler is registered for a name.
func (r *HandlerRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[name]
	return exists
}

// Names returns all registered handler names, sorted.
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ErrNoHandler is returned for jobs whose handler is not registered.
var ErrNoHandler = errors.New("no handler registered")

// RegistryExecutor adapts a HandlerRegistry to JobExecutor.
type RegistryExecutor struct {
	registry *HandlerRegistry
}

// NewRegistryExecutor creates an executor backed by a handler registry.
func NewRegistryExecutor(registry *HandlerRegistry) *RegistryExecutor {
	return &RegistryExecutor{registry: registry}
}

// Execute implements JobExecutor by dispatching to registered handlers.
func (e *RegistryExecutor) Execute(ctx context.Context, job *Job) error {
	if job.HandlerName == "" {
		return errors.Newf("job %s missing handler_name", job.ID)
	}
	handler := e.registry.Get(job.HandlerName)
	if handler == nil {
		return errors.Wrapf(ErrNoHandler, "handler name %s", job.HandlerName)
	}
	return handler.Execute(ctx, job)
}
