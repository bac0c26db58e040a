package graph

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// StageSpec describes one stage: its component type and init params.
// Name is empty when the spec travels on its own, before it is placed in
// a pipeline.
type StageSpec struct {
	Name   string         `json:"name,omitempty"`
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Connection is a fully qualified "stage.socket" edge.
type Connection struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
}

// Descriptor is the serializable form of a Pipeline.
type Descriptor struct {
	Stages      []StageSpec  `json:"stages"`
	Connections []Connection `json:"connections"`
}

// Spec returns the StageSpec of a component.
func Spec(name string, c Component) StageSpec {
	return StageSpec{Name: name, Type: c.Type(), Params: maps.Clone(c.Params())}
}

// Descriptor returns the pipeline's serializable description.
func (p *Pipeline) Descriptor() Descriptor {
	d := Descriptor{
		Stages:      make([]StageSpec, 0, len(p.order)),
		Connections: p.Connections(),
	}
	for _, name := range p.order {
		d.Stages = append(d.Stages, Spec(name, p.stages[name]))
	}
	return d
}

// FromDescriptor rebuilds a pipeline, constructing each stage through reg.
func FromDescriptor(d Descriptor, reg *Registry) (*Pipeline, error) {
	p := New()
	for _, spec := range d.Stages {
		c, err := reg.Build(spec)
		if err != nil {
			return nil, err
		}
		if err := p.AddStage(spec.Name, c); err != nil {
			return nil, err
		}
	}
	for _, conn := range d.Connections {
		if err := p.Connect(conn.Sender, conn.Receiver); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// ──────────────────────────────────────────────────
// Component registry
// ──────────────────────────────────────────────────

// Factory builds a component from its init params.
type Factory func(params map[string]any) (Component, error)

// Registry maps component type names to factories. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for a component type.
func (r *Registry) Register(typ string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typ] = f
}

// Build constructs the component a spec describes.
func (r *Registry) Build(spec StageSpec) (Component, error) {
	r.mu.RLock()
	f, ok := r.factories[spec.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownComponent, spec.Type)
	}
	c, err := f(spec.Params)
	if err != nil {
		return nil, fmt.Errorf("graph: build %s %q: %w", spec.Type, spec.Name, err)
	}
	return c, nil
}

// Types returns the registered component types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}
