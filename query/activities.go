package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/ragflow"
	"github.com/xraph/ragflow/activity"
	"github.com/xraph/ragflow/graph"
	"github.com/xraph/ragflow/rag"
)

// Activity names.
const (
	ActivityCreateCorpus        = "create_corpus"
	ActivityCreateRetriever     = "create_retriever"
	ActivityCreatePromptBuilder = "create_prompt_builder"
	ActivityCreateGenerator     = "create_generator"
	ActivityCreateRAGPipeline   = "create_rag_pipeline"
	ActivityRunQuery            = "run_query"
	ActivityAnswerQuery         = "answer_query"
)

// Activities holds the read-only dependencies of the query activities.
type Activities struct {
	cfg        rag.Config
	components *graph.Registry
	logger     *slog.Logger
}

// NewActivities creates the activity set. components must have the rag
// stage factories registered; the same registry rebuilds pipelines in the
// payload converter.
func NewActivities(cfg rag.Config, components *graph.Registry, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{cfg: cfg, components: components, logger: logger}
}

// Register adds every query activity to reg on taskQueue. Each activity
// declares the default timeout for its name.
func (a *Activities) Register(reg *activity.Registry, taskQueue string) {
	defaults := ragflow.DefaultConfig()
	opts := func(name string) []activity.Option {
		return []activity.Option{
			activity.WithTaskQueue(taskQueue),
			activity.WithTimeout(defaults.StepTimeout(name)),
		}
	}

	reg.Register(activity.NewDefinition0(ActivityCreateCorpus, a.CreateCorpus, opts(ActivityCreateCorpus)...))
	reg.Register(activity.NewDefinition(ActivityCreateRetriever, a.CreateRetriever, opts(ActivityCreateRetriever)...))
	reg.Register(activity.NewDefinition0(ActivityCreatePromptBuilder, a.CreatePromptBuilder, opts(ActivityCreatePromptBuilder)...))
	reg.Register(activity.NewDefinition0(ActivityCreateGenerator, a.CreateGenerator, opts(ActivityCreateGenerator)...))
	reg.Register(activity.NewDefinition3(ActivityCreateRAGPipeline, a.CreateRAGPipeline, opts(ActivityCreateRAGPipeline)...))
	reg.Register(activity.NewDefinition2(ActivityRunQuery, a.RunQuery, opts(ActivityRunQuery)...))
	reg.Register(activity.NewDefinition2(ActivityAnswerQuery, a.AnswerQuery, opts(ActivityAnswerQuery)...))
}

// CreateCorpus returns the seed documents. It is deterministic.
func (a *Activities) CreateCorpus(_ context.Context) (rag.Corpus, error) {
	return rag.SeedCorpus(), nil
}

// CreateRetriever returns the spec of a BM25 retriever over corpus.
func (a *Activities) CreateRetriever(_ context.Context, corpus rag.Corpus) (graph.StageSpec, error) {
	return graph.Spec(rag.StageRetriever, rag.NewBM25Retriever(corpus, a.cfg.TopK)), nil
}

// CreatePromptBuilder returns the spec of the prompt builder.
func (a *Activities) CreatePromptBuilder(_ context.Context) (graph.StageSpec, error) {
	b, err := rag.NewPromptBuilder(a.cfg.Template)
	if err != nil {
		return graph.StageSpec{}, activity.NonRetryable(err)
	}
	return graph.Spec(rag.StagePromptBuilder, b), nil
}

// CreateGenerator returns the spec of the configured generator.
func (a *Activities) CreateGenerator(_ context.Context) (graph.StageSpec, error) {
	g, err := rag.NewGenerator(a.cfg)
	if err != nil {
		return graph.StageSpec{}, activity.NonRetryable(err)
	}
	return graph.Spec(rag.StageGenerator, g), nil
}

// CreateRAGPipeline builds the three stages from their specs and connects
// them.
func (a *Activities) CreateRAGPipeline(_ context.Context, retriever, builder, generator graph.StageSpec) (*graph.Pipeline, error) {
	stages := make([]graph.Component, 0, 3)
	for _, spec := range []graph.StageSpec{retriever, builder, generator} {
		c, err := a.components.Build(spec)
		if err != nil {
			return nil, buildErr(err)
		}
		stages = append(stages, c)
	}
	p, err := rag.BuildPipeline(stages[0], stages[1], stages[2])
	if err != nil {
		return nil, activity.NonRetryable(fmt.Errorf("assemble pipeline: %w", err))
	}
	return p, nil
}

// RunQuery runs pipeline for req and returns the answer.
func (a *Activities) RunQuery(ctx context.Context, pipeline *graph.Pipeline, req QueryRequest) (string, error) {
	if pipeline == nil {
		return "", activity.NonRetryable(errors.New("run query: nil pipeline"))
	}
	answer, err := rag.RunPipeline(ctx, pipeline, req.Question)
	if err != nil {
		return "", fmt.Errorf("run query: %w", err)
	}
	a.logger.Debug("query answered",
		slog.String("question", req.Question),
		slog.Int("answer_len", len(answer)),
	)
	return answer, nil
}

// AnswerQuery builds the configured pipeline over corpus and answers req
// in a single step.
func (a *Activities) AnswerQuery(ctx context.Context, req QueryRequest, corpus rag.Corpus) (string, error) {
	builder, err := rag.NewPromptBuilder(a.cfg.Template)
	if err != nil {
		return "", activity.NonRetryable(err)
	}
	generator, err := rag.NewGenerator(a.cfg)
	if err != nil {
		return "", activity.NonRetryable(err)
	}
	p, err := rag.BuildPipeline(rag.NewBM25Retriever(corpus, a.cfg.TopK), builder, generator)
	if err != nil {
		return "", activity.NonRetryable(fmt.Errorf("assemble pipeline: %w", err))
	}
	return a.RunQuery(ctx, p, req)
}

// buildErr marks configuration faults as non-retryable. A missing API key
// will not appear on a retry.
func buildErr(err error) error {
	if errors.Is(err, graph.ErrUnknownComponent) || errors.Is(err, rag.ErrMissingAPIKey) {
		return activity.NonRetryable(err)
	}
	return err
}
