// Package workflow is the deterministic coordinator.
//
// A workflow is a Go function that sequences activities through
// ExecuteActivity. Every scheduled activity becomes an Invocation in the
// run's replay log; its outcome is persisted before the next step is
// decided. Re-executing the function against that log returns recorded
// outcomes without dispatching, which is how a run resumes after a crash
// and how Replay proves a run deterministic.
//
// Workflow functions must not read the clock, draw random numbers, or
// perform I/O directly. All side effects go through activities.
//
//	wf := workflow.NewWorkflow("query", func(wf *workflow.Workflow, req query.QueryRequest) (query.AnswerResult, error) {
//	    corpus, err := workflow.ExecuteActivity[rag.Corpus](wf, "create_corpus")
//	    if err != nil {
//	        return query.AnswerResult{}, err
//	    }
//	    answer, err := workflow.ExecuteActivity[string](wf, "answer_query", req.Question, corpus)
//	    ...
//	})
package workflow
