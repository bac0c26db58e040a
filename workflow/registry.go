package workflow

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/xraph/ragflow/converter"
)

// RunnerFunc is a type-erased workflow: payload in, payload out.
type RunnerFunc func(wf *Workflow, input *converter.Payload) (*converter.Payload, error)

// Definition is a typed workflow definition.
type Definition[In, Out any] struct {
	// Name is the unique identifier runs are started by.
	Name string

	// Handler is the deterministic workflow function.
	Handler func(wf *Workflow, input In) (Out, error)
}

// NewWorkflow creates a typed workflow definition.
func NewWorkflow[In, Out any](name string, handler func(wf *Workflow, input In) (Out, error)) *Definition[In, Out] {
	return &Definition[In, Out]{Name: name, Handler: handler}
}

// Registry maps workflow names to type-erased runners. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]RunnerFunc
}

// NewRegistry creates an empty workflow registry.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]RunnerFunc)}
}

// RegisterDefinition registers a typed workflow. The handler is wrapped in
// a closure that decodes the run input and encodes the result through the
// run's converter.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[In, Out any](r *Registry, def *Definition[In, Out]) {
	runner := func(wf *Workflow, input *converter.Payload) (*converter.Payload, error) {
		var in In
		if err := wf.env.converter.FromPayload(input, &in); err != nil {
			return nil, fmt.Errorf("decode input of workflow %q: %w", def.Name, err)
		}
		out, err := def.Handler(wf, in)
		if err != nil {
			return nil, err
		}
		p, err := wf.env.converter.ToPayload(out)
		if err != nil {
			return nil, fmt.Errorf("encode result of workflow %q: %w", def.Name, err)
		}
		return p, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[def.Name] = runner
}

// Get returns the runner for the given workflow name.
func (r *Registry) Get(name string) (RunnerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.runners[name]
	return fn, ok
}

// Names returns all registered workflow names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.runners))
}
