package rag

import (
	"context"
	"fmt"

	"github.com/nikolalohinski/gonja"

	"github.com/xraph/ragflow/graph"
)

// PromptBuilderType is the component type of PromptBuilder.
const PromptBuilderType = "rag.PromptBuilder"

// DefaultTemplate is the Jinja template the query pipeline renders.
const DefaultTemplate = `
Given these documents, answer the question.
Documents:
{% for doc in documents %}
    {{ doc.content }}
{% endfor %}
Question: {{question}}
Answer:
`

// PromptBuilder renders a Jinja template with the retrieved documents and
// the question.
//
// Input sockets "documents" ([]Document) and "question" (string); output
// socket "prompt" (string).
type PromptBuilder struct {
	source string
	render func(data map[string]any) (string, error)
}

var _ graph.Component = (*PromptBuilder)(nil)

// NewPromptBuilder compiles source. An empty source means DefaultTemplate.
func NewPromptBuilder(source string) (*PromptBuilder, error) {
	if source == "" {
		source = DefaultTemplate
	}
	tpl, err := gonja.FromString(source)
	if err != nil {
		return nil, fmt.Errorf("rag: compile prompt template: %w", err)
	}
	render := func(data map[string]any) (string, error) { return tpl.Execute(data) }
	return &PromptBuilder{source: source, render: render}, nil
}

// MustPromptBuilder is NewPromptBuilder that panics on a bad template.
func MustPromptBuilder(source string) *PromptBuilder {
	b, err := NewPromptBuilder(source)
	if err != nil {
		panic(err)
	}
	return b
}

// Type implements graph.Component.
func (b *PromptBuilder) Type() string { return PromptBuilderType }

// Params implements graph.Component.
func (b *PromptBuilder) Params() map[string]any {
	return map[string]any{"template": b.source}
}

// InputSockets implements graph.Component.
func (b *PromptBuilder) InputSockets() []string { return []string{"documents", "question"} }

// OutputSockets implements graph.Component.
func (b *PromptBuilder) OutputSockets() []string { return []string{"prompt"} }

// Run implements graph.Component.
func (b *PromptBuilder) Run(_ context.Context, inputs map[string]any) (map[string]any, error) {
	docs, err := asDocuments(inputs["documents"])
	if err != nil {
		return nil, err
	}
	question, _ := inputs["question"].(string)

	prompt, err := b.Render(docs, question)
	if err != nil {
		return nil, err
	}
	return map[string]any{"prompt": prompt}, nil
}

// Render executes the template.
func (b *PromptBuilder) Render(docs []Document, question string) (string, error) {
	items := make([]map[string]any, len(docs))
	for i, d := range docs {
		items[i] = map[string]any{"id": d.ID, "content": d.Content, "score": d.Score}
	}
	out, err := b.render(map[string]any{
		"documents": items,
		"question":  question,
	})
	if err != nil {
		return "", fmt.Errorf("rag: render prompt: %w", err)
	}
	return out, nil
}

func asDocuments(v any) ([]Document, error) {
	switch d := v.(type) {
	case nil:
		return nil, nil
	case []Document:
		return d, nil
	case Corpus:
		return d, nil
	default:
		return nil, fmt.Errorf("rag: documents must be []Document, got %T", v)
	}
}
