package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Definition lists the ways a job type can be constructed. Make tries them
// in field order and uses the first one that is set.
type Definition struct {
	// FromPayload builds the job from its payload and may reject it.
	FromPayload func(payload Payload) (Job, error)
	// New builds the job directly from its payload.
	New func(payload Payload) Job
	// Zero builds an empty job; the job must implement PayloadSetter.
	Zero func() Job
}

// HandlerFunc is the function signature for processing a job payload
type HandlerFunc func(ctx context.Context, payload Payload) error

type handlerJob struct {
	handler HandlerFunc
	payload Payload
}

func (j *handlerJob) Handle(ctx context.Context) error {
	return j.handler(ctx, j.payload)
}

// Registry maps job types to their construction definitions.
// It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	definitions map[string]Definition
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[string]Definition)}
}

// Define registers the construction definition for a job type.
func (r *Registry) Define(jobType string, def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.definitions[jobType] = def
}

// Register adds a plain handler function for a job type.
func (r *Registry) Register(jobType string, handler HandlerFunc) {
	r.Define(jobType, Definition{
		New: func(payload Payload) Job {
			return &handlerJob{handler: handler, payload: payload}
		},
	})
}

// Types returns the registered job types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.definitions))
	for name := range r.definitions {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// Make resolves jobType into a job instance. The payload is copied first.
func (r *Registry) Make(jobType string, payload Payload) (Job, error) {
	r.mu.RLock()
	def, ok := r.definitions[jobType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}

	payload = payload.Clone()
	var job Job
	switch {
	case def.FromPayload != nil:
		built, err := def.FromPayload(payload)
		if err != nil {
			return nil, fmt.Errorf("%w %s: %w", ErrCannotConstruct, jobType, err)
		}
		job = built
	case def.New != nil:
		job = def.New(payload)
	case def.Zero != nil:
		instance := def.Zero()
		setter, ok := instance.(PayloadSetter)
		if !ok {
			return nil, fmt.Errorf("%w %s: no payload setter", ErrCannotConstruct, jobType)
		}
		setter.SetPayload(payload)
		job = instance
	}

	if job == nil {
		return nil, fmt.Errorf("%w %s from payload", ErrCannotConstruct, jobType)
	}
	return job, nil
}

// DefaultRegistry is the process-wide registry used by the console commands.
var DefaultRegistry = NewRegistry()

// Register adds a handler to the default registry.
func Register(jobType string, handler HandlerFunc) {
	DefaultRegistry.Register(jobType, handler)
}

// Define adds a construction definition to the default registry.
func Define(jobType string, def Definition) {
	DefaultRegistry.Define(jobType, def)
}
