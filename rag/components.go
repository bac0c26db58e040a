package rag

import (
	"context"
	"fmt"

	"github.com/go-viper/mapstructure/v2"

	"github.com/xraph/ragflow/graph"
)

// Stage names of the query pipeline.
const (
	StageRetriever     = "retriever"
	StagePromptBuilder = "prompt_builder"
	StageGenerator     = "generator"
)

// Generator kinds accepted by Config.Generator.
const (
	GeneratorExtractive = "extractive"
	GeneratorOpenAI     = "openai"
)

// Config selects and parameterizes the pipeline's stages.
type Config struct {
	Generator string `mapstructure:"generator"`
	Model     string `mapstructure:"model"`
	BaseURL   string `mapstructure:"base_url"`
	APIKeyEnv string `mapstructure:"api_key_env"`
	TopK      int    `mapstructure:"top_k"`
	Template  string `mapstructure:"template"`
}

// DefaultConfig returns the offline configuration: BM25 over the corpus,
// the default template and the extractive generator.
func DefaultConfig() Config {
	return Config{
		Generator: GeneratorExtractive,
		APIKeyEnv: DefaultAPIKeyEnv,
		TopK:      DefaultTopK,
		Template:  DefaultTemplate,
	}
}

// NewGenerator builds the generator cfg names.
func NewGenerator(cfg Config) (graph.Component, error) {
	switch cfg.Generator {
	case "", GeneratorExtractive:
		return NewExtractiveGenerator(), nil
	case GeneratorOpenAI:
		return NewOpenAIGenerator(OpenAIOptions{
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			APIKeyEnv: cfg.APIKeyEnv,
		})
	default:
		return nil, fmt.Errorf("rag: unknown generator %q", cfg.Generator)
	}
}

// ──────────────────────────────────────────────────
// Factories
// ──────────────────────────────────────────────────

// RegisterComponents installs the factories for every stage in this
// package so pipelines built from them can be rebuilt from a descriptor.
func RegisterComponents(reg *graph.Registry) {
	reg.Register(BM25RetrieverType, func(params map[string]any) (graph.Component, error) {
		var p struct {
			Documents []Document `mapstructure:"documents"`
			TopK      int        `mapstructure:"top_k"`
		}
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return NewBM25Retriever(p.Documents, p.TopK), nil
	})
	reg.Register(PromptBuilderType, func(params map[string]any) (graph.Component, error) {
		var p struct {
			Template string `mapstructure:"template"`
		}
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return NewPromptBuilder(p.Template)
	})
	reg.Register(ExtractiveGeneratorType, func(map[string]any) (graph.Component, error) {
		return NewExtractiveGenerator(), nil
	})
	reg.Register(OpenAIGeneratorType, func(params map[string]any) (graph.Component, error) {
		var p struct {
			Model     string `mapstructure:"model"`
			BaseURL   string `mapstructure:"base_url"`
			APIKeyEnv string `mapstructure:"api_key_env"`
		}
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return NewOpenAIGenerator(OpenAIOptions(p))
	})
}

// decodeParams maps component params onto target. Params arrive either as
// the component produced them or as generic JSON values after a round trip
// through a payload.
func decodeParams(params map[string]any, target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return fmt.Errorf("rag: params decoder: %w", err)
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("rag: decode params: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Pipeline
// ──────────────────────────────────────────────────

// BuildPipeline wires retriever → prompt builder → generator.
func BuildPipeline(retriever, builder, generator graph.Component) (*graph.Pipeline, error) {
	p := graph.New()
	for _, st := range []struct {
		name string
		c    graph.Component
	}{
		{StageRetriever, retriever},
		{StagePromptBuilder, builder},
		{StageGenerator, generator},
	} {
		if err := p.AddStage(st.name, st.c); err != nil {
			return nil, err
		}
	}
	if err := p.Connect(StageRetriever, StagePromptBuilder+".documents"); err != nil {
		return nil, err
	}
	if err := p.Connect(StagePromptBuilder, StageGenerator+".prompt"); err != nil {
		return nil, err
	}
	return p, nil
}

// RunPipeline feeds question to the retriever and the prompt builder and
// returns the generator's first reply, or FallbackAnswer when it has none.
func RunPipeline(ctx context.Context, p *graph.Pipeline, question string) (string, error) {
	out, err := p.Run(ctx, map[string]map[string]any{
		StageRetriever:     {"query": question},
		StagePromptBuilder: {"question": question},
	})
	if err != nil {
		return "", err
	}
	replies, _ := out[StageGenerator]["replies"].([]string)
	if len(replies) == 0 || replies[0] == "" {
		return FallbackAnswer, nil
	}
	return replies[0], nil
}
