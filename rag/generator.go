package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/xraph/ragflow/graph"
)

// ExtractiveGeneratorType is the component type of ExtractiveGenerator.
const ExtractiveGeneratorType = "rag.ExtractiveGenerator"

// FallbackAnswer is returned when a generator produces no reply.
const FallbackAnswer = "Answer not available"

// ExtractiveGenerator answers with the first passage listed in the prompt's
// Documents section. Retrieval ranks that section, so the first passage is
// the best match. It needs no network access and is deterministic.
//
// Input socket "prompt" (string); output socket "replies" ([]string).
type ExtractiveGenerator struct{}

var _ graph.Component = ExtractiveGenerator{}

// NewExtractiveGenerator returns the extractive generator.
func NewExtractiveGenerator() ExtractiveGenerator { return ExtractiveGenerator{} }

// Type implements graph.Component.
func (ExtractiveGenerator) Type() string { return ExtractiveGeneratorType }

// Params implements graph.Component.
func (ExtractiveGenerator) Params() map[string]any { return nil }

// InputSockets implements graph.Component.
func (ExtractiveGenerator) InputSockets() []string { return []string{"prompt"} }

// OutputSockets implements graph.Component.
func (ExtractiveGenerator) OutputSockets() []string { return []string{"replies"} }

// Run implements graph.Component.
func (ExtractiveGenerator) Run(_ context.Context, inputs map[string]any) (map[string]any, error) {
	prompt, ok := inputs["prompt"].(string)
	if !ok {
		return nil, fmt.Errorf("rag: generator prompt must be a string, got %T", inputs["prompt"])
	}
	passages := promptPassages(prompt)
	if len(passages) == 0 {
		return map[string]any{"replies": []string{}}, nil
	}
	return map[string]any{"replies": []string{passages[0]}}, nil
}

// promptPassages returns the non-blank lines between "Documents:" and
// "Question:".
func promptPassages(prompt string) []string {
	_, rest, ok := strings.Cut(prompt, "Documents:")
	if !ok {
		return nil
	}
	if i := strings.LastIndex(rest, "Question:"); i >= 0 {
		rest = rest[:i]
	}

	var out []string
	for line := range strings.SplitSeq(rest, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
