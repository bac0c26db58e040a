// Package graph models a multi-stage processing pipeline as an arena of
// named stages joined by socket edges.
//
// Stages are addressed by name and edges by "stage.socket" strings, so a
// pipeline has no object references and serializes to a Descriptor. The
// graph/v1 payload converter carries that descriptor across the activity
// boundary and rebuilds the stages through a component Registry.
package graph

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

var (
	ErrDuplicateStage   = errors.New("graph: duplicate stage name")
	ErrStageNotFound    = errors.New("graph: stage not found")
	ErrSocketNotFound   = errors.New("graph: socket not found")
	ErrAmbiguousSocket  = errors.New("graph: socket is ambiguous")
	ErrSocketTaken      = errors.New("graph: input socket already connected")
	ErrCycle            = errors.New("graph: connection would create a cycle")
	ErrUnknownComponent = errors.New("graph: unknown component type")
)

// Component is one stage of a pipeline.
//
// Params must return the JSON-representable init parameters a Factory
// needs to rebuild an equivalent component.
type Component interface {
	Type() string
	Params() map[string]any
	InputSockets() []string
	OutputSockets() []string
	Run(ctx context.Context, inputs map[string]any) (map[string]any, error)
}

// edge is a resolved socket-to-socket connection.
type edge struct {
	from, fromSocket string
	to, toSocket     string
}

// Pipeline is a directed acyclic graph of stages. It is not safe for
// concurrent mutation; Run may be called concurrently once built.
type Pipeline struct {
	stages map[string]Component
	order  []string
	edges  []edge
}

// New returns an empty pipeline.
func New() *Pipeline {
	return &Pipeline{stages: make(map[string]Component)}
}

// AddStage adds a component under a unique name.
func (p *Pipeline) AddStage(name string, c Component) error {
	if name == "" || strings.Contains(name, ".") {
		return fmt.Errorf("graph: invalid stage name %q", name)
	}
	if _, ok := p.stages[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateStage, name)
	}
	p.stages[name] = c
	p.order = append(p.order, name)
	return nil
}

// Stage returns the component registered under name.
func (p *Pipeline) Stage(name string) (Component, bool) {
	c, ok := p.stages[name]
	return c, ok
}

// StageNames returns stage names in insertion order.
func (p *Pipeline) StageNames() []string { return slices.Clone(p.order) }

// Connect joins a sender output to a receiver input. Either address may
// omit the socket ("retriever") when it can be inferred: a stage with a
// single socket on that side, or a socket whose name matches the other end.
func (p *Pipeline) Connect(sender, receiver string) error {
	from, fromSocket := splitAddress(sender)
	to, toSocket := splitAddress(receiver)

	src, ok := p.stages[from]
	if !ok {
		return fmt.Errorf("%w: %q", ErrStageNotFound, from)
	}
	dst, ok := p.stages[to]
	if !ok {
		return fmt.Errorf("%w: %q", ErrStageNotFound, to)
	}

	fromSocket, err := resolveSocket(from, fromSocket, src.OutputSockets(), toSocket, nil)
	if err != nil {
		return err
	}
	toSocket, err = resolveSocket(to, toSocket, dst.InputSockets(), fromSocket, p.connectedInputs(to))
	if err != nil {
		return err
	}

	for _, e := range p.edges {
		if e.to == to && e.toSocket == toSocket {
			return fmt.Errorf("%w: %s.%s", ErrSocketTaken, to, toSocket)
		}
	}
	if from == to || p.reaches(to, from) {
		return fmt.Errorf("%w: %s -> %s", ErrCycle, from, to)
	}

	p.edges = append(p.edges, edge{from: from, fromSocket: fromSocket, to: to, toSocket: toSocket})
	return nil
}

// Connections returns fully qualified connections in insertion order.
func (p *Pipeline) Connections() []Connection {
	out := make([]Connection, len(p.edges))
	for i, e := range p.edges {
		out[i] = Connection{Sender: e.from + "." + e.fromSocket, Receiver: e.to + "." + e.toSocket}
	}
	return out
}

// Run executes every stage in topological order. inputs maps a stage name
// to the socket values supplied by the caller. The result holds every
// output no edge consumes, keyed by stage then socket.
func (p *Pipeline) Run(ctx context.Context, inputs map[string]map[string]any) (map[string]map[string]any, error) {
	for name := range inputs {
		if _, ok := p.stages[name]; !ok {
			return nil, fmt.Errorf("%w: input for %q", ErrStageNotFound, name)
		}
	}

	order, err := p.topoOrder()
	if err != nil {
		return nil, err
	}

	consumed := make(map[string]bool, len(p.edges))
	for _, e := range p.edges {
		consumed[e.from+"."+e.fromSocket] = true
	}

	produced := make(map[string]map[string]any, len(order))
	results := make(map[string]map[string]any)
	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		in := maps.Clone(inputs[name])
		if in == nil {
			in = make(map[string]any)
		}
		for _, e := range p.edges {
			if e.to != name {
				continue
			}
			if v, ok := produced[e.from][e.fromSocket]; ok {
				in[e.toSocket] = v
			}
		}

		out, err := p.stages[name].Run(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("graph: stage %q: %w", name, err)
		}
		produced[name] = out

		for socket, v := range out {
			if consumed[name+"."+socket] {
				continue
			}
			if results[name] == nil {
				results[name] = make(map[string]any)
			}
			results[name][socket] = v
		}
	}
	return results, nil
}

// topoOrder is Kahn's algorithm, breaking ties by insertion order so the
// schedule is deterministic.
func (p *Pipeline) topoOrder() ([]string, error) {
	indegree := make(map[string]int, len(p.order))
	for _, e := range p.edges {
		indegree[e.to]++
	}

	done := make(map[string]bool, len(p.order))
	order := make([]string, 0, len(p.order))
	for len(order) < len(p.order) {
		next := ""
		for _, name := range p.order {
			if !done[name] && indegree[name] == 0 {
				next = name
				break
			}
		}
		if next == "" {
			return nil, ErrCycle
		}
		done[next] = true
		order = append(order, next)
		for _, e := range p.edges {
			if e.from == next {
				indegree[e.to]--
			}
		}
	}
	return order, nil
}

func (p *Pipeline) reaches(from, target string) bool {
	seen := map[string]bool{}
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == target {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		for _, e := range p.edges {
			if e.from == cur {
				stack = append(stack, e.to)
			}
		}
	}
	return false
}

func (p *Pipeline) connectedInputs(stage string) map[string]bool {
	taken := make(map[string]bool)
	for _, e := range p.edges {
		if e.to == stage {
			taken[e.toSocket] = true
		}
	}
	return taken
}

func splitAddress(addr string) (stage, socket string) {
	stage, socket, _ = strings.Cut(addr, ".")
	return stage, socket
}

// resolveSocket picks a socket on one side of a connection. hint is the
// socket named on the other side; taken excludes inputs already wired.
func resolveSocket(stage, socket string, sockets []string, hint string, taken map[string]bool) (string, error) {
	if socket != "" {
		if !slices.Contains(sockets, socket) {
			return "", fmt.Errorf("%w: %s.%s", ErrSocketNotFound, stage, socket)
		}
		return socket, nil
	}
	if hint != "" && slices.Contains(sockets, hint) {
		return hint, nil
	}

	var free []string
	for _, s := range sockets {
		if !taken[s] {
			free = append(free, s)
		}
	}
	switch len(free) {
	case 1:
		return free[0], nil
	case 0:
		return "", fmt.Errorf("%w: %s has no free socket", ErrSocketNotFound, stage)
	default:
		return "", fmt.Errorf("%w: %s has sockets %v", ErrAmbiguousSocket, stage, free)
	}
}
