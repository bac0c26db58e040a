package query

import (
	"github.com/xraph/ragflow/graph"
	"github.com/xraph/ragflow/rag"
	"github.com/xraph/ragflow/workflow"
)

// Workflow names.
const (
	WorkflowPipeline = "query-pipeline"
	WorkflowQuery    = "query"
)

// PipelineWorkflow assembles the retrieval pipeline through activities and
// runs the request through it. The three stage specs are independent and
// are created in parallel.
var PipelineWorkflow = workflow.NewWorkflow(WorkflowPipeline, func(wf *workflow.Workflow, req QueryRequest) (AnswerResult, error) {
	corpus, err := workflow.ExecuteActivity[rag.Corpus](wf, ActivityCreateCorpus)
	if err != nil {
		return AnswerResult{}, err
	}

	specs, err := workflow.Parallel(wf,
		workflow.Call{Activity: ActivityCreateRetriever, Args: []any{corpus}},
		workflow.Call{Activity: ActivityCreatePromptBuilder},
		workflow.Call{Activity: ActivityCreateGenerator},
	)
	if err != nil {
		return AnswerResult{}, err
	}
	names := []string{ActivityCreateRetriever, ActivityCreatePromptBuilder, ActivityCreateGenerator}
	stages := make([]any, len(specs))
	for i, p := range specs {
		spec, err := workflow.Decode[graph.StageSpec](wf, names[i], p)
		if err != nil {
			return AnswerResult{}, err
		}
		stages[i] = spec
	}

	pipeline, err := workflow.ExecuteActivity[*graph.Pipeline](wf, ActivityCreateRAGPipeline, stages...)
	if err != nil {
		return AnswerResult{}, err
	}

	answer, err := workflow.ExecuteActivity[string](wf, ActivityRunQuery, pipeline, req)
	if err != nil {
		return AnswerResult{}, err
	}
	return AnswerResult{Answer: answer}, nil
})

// QueryWorkflow seeds the corpus and answers in one activity.
var QueryWorkflow = workflow.NewWorkflow(WorkflowQuery, func(wf *workflow.Workflow, req QueryRequest) (AnswerResult, error) {
	corpus, err := workflow.ExecuteActivity[rag.Corpus](wf, ActivityCreateCorpus)
	if err != nil {
		return AnswerResult{}, err
	}
	answer, err := workflow.ExecuteActivity[string](wf, ActivityAnswerQuery, req, corpus)
	if err != nil {
		return AnswerResult{}, err
	}
	return AnswerResult{Answer: answer}, nil
})

// RegisterWorkflows adds both query workflows to reg.
func RegisterWorkflows(reg *workflow.Registry) {
	workflow.RegisterDefinition(reg, PipelineWorkflow)
	workflow.RegisterDefinition(reg, QueryWorkflow)
}
