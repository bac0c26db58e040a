package graph_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/xraph/ragflow"
	"github.com/xraph/ragflow/converter"
	"github.com/xraph/ragflow/graph"
)

// relay joins its present inputs behind a label. It has three inputs and
// one output.
type relay struct{ label string }

func (r *relay) Type() string            { return "test.relay" }
func (r *relay) Params() map[string]any  { return map[string]any{"label": r.label} }
func (r *relay) InputSockets() []string  { return []string{"in0", "in1", "in2"} }
func (r *relay) OutputSockets() []string { return []string{"out"} }

func (r *relay) Run(_ context.Context, in map[string]any) (map[string]any, error) {
	parts := make([]string, 0, len(in))
	for _, k := range []string{"in0", "in1", "in2"} {
		if v, ok := in[k]; ok {
			parts = append(parts, fmt.Sprint(v))
		}
	}
	return map[string]any{"out": r.label + "(" + strings.Join(parts, ",") + ")"}, nil
}

// splitter has two outputs so connections from it need an explicit socket.
type splitter struct{}

func (splitter) Type() string            { return "test.splitter" }
func (splitter) Params() map[string]any  { return nil }
func (splitter) InputSockets() []string  { return []string{"text"} }
func (splitter) OutputSockets() []string { return []string{"head", "tail"} }

func (splitter) Run(_ context.Context, in map[string]any) (map[string]any, error) {
	s, _ := in["text"].(string)
	h, t, _ := strings.Cut(s, " ")
	return map[string]any{"head": h, "tail": t}, nil
}

func testRegistry() *graph.Registry {
	reg := graph.NewRegistry()
	reg.Register("test.relay", func(params map[string]any) (graph.Component, error) {
		label, ok := params["label"].(string)
		if !ok {
			return nil, errors.New("label must be a string")
		}
		return &relay{label: label}, nil
	})
	reg.Register("test.splitter", func(map[string]any) (graph.Component, error) {
		return splitter{}, nil
	})
	return reg
}

func mustConnect(t testing.TB, p *graph.Pipeline, from, to string) {
	t.Helper()
	if err := p.Connect(from, to); err != nil {
		t.Fatalf("Connect(%q, %q): %v", from, to, err)
	}
}

func TestRunTopologicalOrder(t *testing.T) {
	p := graph.New()
	_ = p.AddStage("split", splitter{})
	_ = p.AddStage("a", &relay{label: "A"})
	_ = p.AddStage("b", &relay{label: "B"})
	mustConnect(t, p, "split.head", "a.in0")
	mustConnect(t, p, "split.tail", "b.in1")
	mustConnect(t, p, "a", "b.in0")

	got, err := p.Run(context.Background(), map[string]map[string]any{
		"split": {"text": "who lives"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := map[string]map[string]any{"b": {"out": "B(A(who),lives)"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Run() = %v, want %v", got, want)
	}
}

func TestConnectErrors(t *testing.T) {
	newPipeline := func() *graph.Pipeline {
		p := graph.New()
		_ = p.AddStage("split", splitter{})
		_ = p.AddStage("a", &relay{label: "A"})
		_ = p.AddStage("b", &relay{label: "B"})
		return p
	}

	tests := []struct {
		name  string
		setup func(p *graph.Pipeline)
		from  string
		to    string
		want  error
	}{
		{"unknown sender", nil, "nope", "a.in0", graph.ErrStageNotFound},
		{"unknown socket", nil, "a.result", "b.in0", graph.ErrSocketNotFound},
		{"ambiguous sender", nil, "split", "a.in0", graph.ErrAmbiguousSocket},
		{"ambiguous receiver", nil, "a", "b", graph.ErrAmbiguousSocket},
		{"self loop", nil, "a", "a.in0", graph.ErrCycle},
		{
			"cycle", func(p *graph.Pipeline) { mustConnect(t, p, "a", "b.in0") },
			"b", "a.in0", graph.ErrCycle,
		},
		{
			"taken input", func(p *graph.Pipeline) { mustConnect(t, p, "split.head", "b.in0") },
			"a", "b.in0", graph.ErrSocketTaken,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipeline()
			if tt.setup != nil {
				tt.setup(p)
			}
			if err := p.Connect(tt.from, tt.to); !errors.Is(err, tt.want) {
				t.Errorf("Connect() error = %v, want %v", err, tt.want)
			}
		})
	}

	p := newPipeline()
	if err := p.AddStage("a", splitter{}); !errors.Is(err, graph.ErrDuplicateStage) {
		t.Errorf("AddStage duplicate error = %v", err)
	}
}

func TestPipelineEncodesAsGraph(t *testing.T) {
	reg := testRegistry()
	p := graph.New()
	_ = p.AddStage("a", &relay{label: "A"})
	_ = p.AddStage("b", &relay{label: "B"})
	mustConnect(t, p, "a", "b.in2")

	withGraph := converter.New(graph.NewPayloadConverter(reg))
	for _, v := range []any{p, p.Descriptor()} {
		payload, err := withGraph.ToPayload(v)
		if err != nil {
			t.Fatalf("ToPayload(%T): %v", v, err)
		}
		if payload.Encoding != graph.Encoding {
			t.Errorf("ToPayload(%T) encoding = %q, want %q", v, payload.Encoding, graph.Encoding)
		}
	}

	// The plain chain represents a descriptor as json, so the tag is
	// chosen by order, not by capability.
	payload, err := converter.New().ToPayload(p.Descriptor())
	if err != nil {
		t.Fatalf("ToPayload: %v", err)
	}
	if payload.Encoding != converter.EncodingJSON {
		t.Errorf("default chain encoding = %q, want json", payload.Encoding)
	}
}

func TestPipelineRejectsStructuralDecoding(t *testing.T) {
	p := graph.New()
	_ = p.AddStage("a", &relay{label: "A"})

	// A chain without the graph converter encodes only the descriptor.
	plain := converter.New()
	payload, err := plain.ToPayload(p.Descriptor())
	if err != nil {
		t.Fatalf("ToPayload: %v", err)
	}
	var val graph.Pipeline
	if err := plain.FromPayload(payload, &val); !errors.Is(err, ragflow.ErrTypeMismatch) {
		t.Fatalf("json into *Pipeline = %v, want ErrTypeMismatch", err)
	}
	var ptr *graph.Pipeline
	if err := plain.FromPayload(payload, &ptr); !errors.Is(err, ragflow.ErrTypeMismatch) {
		t.Fatalf("json into **Pipeline = %v, want ErrTypeMismatch", err)
	}

	packed, err := converter.MsgpackConverter{}.ToPayload(map[string]any{"stages": []any{}})
	if err != nil {
		t.Fatalf("msgpack ToPayload: %v", err)
	}
	if err := (converter.MsgpackConverter{}).FromPayload(packed, &val); !errors.Is(err, ragflow.ErrTypeMismatch) {
		t.Fatalf("msgpack into *Pipeline = %v, want ErrTypeMismatch", err)
	}

	if err := json.Unmarshal([]byte(`{"stages":[]}`), &val); err == nil {
		t.Fatal("json.Unmarshal into Pipeline succeeded")
	}
}

func TestGraphDecodeTargets(t *testing.T) {
	reg := testRegistry()
	c := converter.New(graph.NewPayloadConverter(reg))

	p := graph.New()
	_ = p.AddStage("a", &relay{label: "A"})
	payload, err := c.ToPayload(p)
	if err != nil {
		t.Fatalf("ToPayload: %v", err)
	}

	var ptr *graph.Pipeline
	if err := c.FromPayload(payload, &ptr); err != nil || ptr == nil {
		t.Fatalf("decode into **Pipeline: %v", err)
	}
	var val graph.Pipeline
	if err := c.FromPayload(payload, &val); err != nil {
		t.Fatalf("decode into *Pipeline: %v", err)
	}
	if !slices.Equal(val.StageNames(), []string{"a"}) {
		t.Errorf("StageNames() = %v", val.StageNames())
	}
	var d graph.Descriptor
	if err := c.FromPayload(payload, &d); err != nil || len(d.Stages) != 1 {
		t.Fatalf("decode into *Descriptor: %v (%+v)", err, d)
	}

	var s string
	if err := c.FromPayload(payload, &s); !errors.Is(err, ragflow.ErrTypeMismatch) {
		t.Errorf("decode into *string error = %v, want ErrTypeMismatch", err)
	}

	unknown := &converter.Payload{Encoding: graph.Encoding, Data: []byte(`{"stages":[{"name":"x","type":"nope"}]}`)}
	if err := c.FromPayload(unknown, &ptr); !errors.Is(err, graph.ErrUnknownComponent) {
		t.Errorf("unknown component error = %v, want ErrUnknownComponent", err)
	}
}

// TestProperty_GraphRoundTrip builds random acyclic pipelines and checks
// that decode(encode(p)) has the same stages, the same connections, and
// the same behavior.
func TestProperty_GraphRoundTrip(t *testing.T) {
	reg := testRegistry()
	c := converter.New(graph.NewPayloadConverter(reg))

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "stages")
		p := graph.New()
		for i := range n {
			label := rapid.StringMatching(`[A-Za-z]{1,6}`).Draw(t, fmt.Sprintf("label%d", i))
			if err := p.AddStage(fmt.Sprintf("s%d", i), &relay{label: label}); err != nil {
				t.Fatalf("AddStage: %v", err)
			}
		}

		taken := map[string]bool{}
		m := rapid.IntRange(0, n*2).Draw(t, "edges")
		for e := range m {
			if n < 2 {
				break
			}
			i := rapid.IntRange(0, n-2).Draw(t, fmt.Sprintf("from%d", e))
			j := rapid.IntRange(i+1, n-1).Draw(t, fmt.Sprintf("to%d", e))
			slot := rapid.IntRange(0, 2).Draw(t, fmt.Sprintf("slot%d", e))
			to := fmt.Sprintf("s%d.in%d", j, slot)
			if taken[to] {
				continue
			}
			taken[to] = true
			if err := p.Connect(fmt.Sprintf("s%d", i), to); err != nil {
				t.Fatalf("Connect: %v", err)
			}
		}

		payload, err := c.ToPayload(p)
		if err != nil {
			t.Fatalf("ToPayload: %v", err)
		}
		var decoded *graph.Pipeline
		if err := c.FromPayload(payload, &decoded); err != nil {
			t.Fatalf("FromPayload: %v", err)
		}

		before, _ := json.Marshal(p.Descriptor())
		after, _ := json.Marshal(decoded.Descriptor())
		if string(before) != string(after) {
			t.Fatalf("descriptor mismatch:\n%s\n%s", before, after)
		}

		inputs := map[string]map[string]any{"s0": {"in0": "seed"}}
		want, err := p.Run(context.Background(), inputs)
		if err != nil {
			t.Fatalf("Run original: %v", err)
		}
		got, err := decoded.Run(context.Background(), inputs)
		if err != nil {
			t.Fatalf("Run decoded: %v", err)
		}
		if !reflect.DeepEqual(want, got) {
			t.Fatalf("outputs differ: %v vs %v", want, got)
		}
	})
}
