package rag

import (
	"context"
	"errors"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/xraph/ragflow/graph"
)

// OpenAIGeneratorType is the component type of OpenAIGenerator.
const OpenAIGeneratorType = "rag.OpenAIGenerator"

// Defaults for OpenAIGenerator.
const (
	DefaultModel     = "gpt-4o-mini"
	DefaultAPIKeyEnv = "OPENAI_API_KEY"
)

// ErrMissingAPIKey is returned when the generator's key variable is unset.
var ErrMissingAPIKey = errors.New("rag: openai api key is not set")

// OpenAIGenerator sends the prompt as a single user message to an
// OpenAI-compatible chat completion endpoint.
//
// Params hold only the name of the environment variable that carries the
// key, never the key itself, so a serialized pipeline is safe to persist.
type OpenAIGenerator struct {
	model     string
	baseURL   string
	apiKeyEnv string
	client    *openai.Client
}

var _ graph.Component = (*OpenAIGenerator)(nil)

// OpenAIOptions configures an OpenAIGenerator. Zero fields take defaults.
type OpenAIOptions struct {
	Model     string `json:"model,omitempty"`
	BaseURL   string `json:"base_url,omitempty"`
	APIKeyEnv string `json:"api_key_env,omitempty"`
}

// NewOpenAIGenerator builds a generator, reading the key from the
// configured environment variable.
func NewOpenAIGenerator(opts OpenAIOptions) (*OpenAIGenerator, error) {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.APIKeyEnv == "" {
		opts.APIKeyEnv = DefaultAPIKeyEnv
	}
	key := os.Getenv(opts.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingAPIKey, opts.APIKeyEnv)
	}

	config := openai.DefaultConfig(key)
	if opts.BaseURL != "" {
		config.BaseURL = opts.BaseURL
	}
	return &OpenAIGenerator{
		model:     opts.Model,
		baseURL:   opts.BaseURL,
		apiKeyEnv: opts.APIKeyEnv,
		client:    openai.NewClientWithConfig(config),
	}, nil
}

// Type implements graph.Component.
func (g *OpenAIGenerator) Type() string { return OpenAIGeneratorType }

// Params implements graph.Component.
func (g *OpenAIGenerator) Params() map[string]any {
	p := map[string]any{"model": g.model, "api_key_env": g.apiKeyEnv}
	if g.baseURL != "" {
		p["base_url"] = g.baseURL
	}
	return p
}

// InputSockets implements graph.Component.
func (g *OpenAIGenerator) InputSockets() []string { return []string{"prompt"} }

// OutputSockets implements graph.Component.
func (g *OpenAIGenerator) OutputSockets() []string { return []string{"replies"} }

// Run implements graph.Component.
func (g *OpenAIGenerator) Run(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	prompt, ok := inputs["prompt"].(string)
	if !ok {
		return nil, fmt.Errorf("rag: generator prompt must be a string, got %T", inputs["prompt"])
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("rag: chat completion: %w", err)
	}

	replies := make([]string, 0, len(resp.Choices))
	for _, choice := range resp.Choices {
		replies = append(replies, choice.Message.Content)
	}
	return map[string]any{"replies": replies}, nil
}
