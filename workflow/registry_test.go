package workflow_test

import (
	"context"
	"slices"
	"testing"

	"github.com/xraph/ragflow/workflow"
)

func TestRegistry_Names(t *testing.T) {
	reg := workflow.NewRegistry()
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("query-pipeline", func(_ *workflow.Workflow, _ string) (string, error) {
		return "", nil
	}))
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("query", func(_ *workflow.Workflow, _ string) (string, error) {
		return "", nil
	}))

	if got := reg.Names(); !slices.Equal(got, []string{"query", "query-pipeline"}) {
		t.Errorf("Names = %v", got)
	}
	if _, ok := reg.Get("missing"); ok {
		t.Error("Get returned a runner for an unregistered name")
	}
}

type question struct {
	Question string `json:"question"`
}

func TestRegistry_DecodesTypedInput(t *testing.T) {
	runner, reg, _ := newTestRunner(greetDispatcher())

	var seen string
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("typed", func(_ *workflow.Workflow, in question) (int, error) {
		seen = in.Question
		return len(in.Question), nil
	}))

	run, err := runner.Execute(context.Background(), "typed", "k", question{Question: "Who lives in Rome?"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if seen != "Who lives in Rome?" {
		t.Errorf("workflow saw %q", seen)
	}
	var n int
	if err := conv.FromPayload(run.Output, &n); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if n != len("Who lives in Rome?") {
		t.Errorf("output = %d", n)
	}
}
