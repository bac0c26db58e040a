package workflow_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xraph/ragflow"
	"github.com/xraph/ragflow/activity"
	"github.com/xraph/ragflow/converter"
	"github.com/xraph/ragflow/id"
	"github.com/xraph/ragflow/store/memory"
	"github.com/xraph/ragflow/workflow"
)

// seedRun stores a running greet run whose first step already succeeded.
func seedRun(t *testing.T, s *memory.Store, firstActivity string) *workflow.Run {
	t.Helper()
	ctx := context.Background()

	input, err := conv.ToPayload("giorgio")
	if err != nil {
		t.Fatalf("encode input: %v", err)
	}
	run := &workflow.Run{
		Entity:    ragflow.NewEntity(),
		ID:        id.NewRunID(),
		Key:       "seeded",
		Name:      "greet",
		State:     workflow.RunStateRunning,
		Input:     input,
		StartedAt: time.Now().UTC(),
	}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	result, _ := conv.ToPayload("GIORGIO")
	now := time.Now().UTC()
	inv := &workflow.Invocation{
		ID:          id.NewInvocationID(),
		RunID:       run.ID,
		Seq:         1,
		Activity:    firstActivity,
		Input:       []*converter.Payload{input},
		Attempts:    1,
		State:       workflow.InvocationSucceeded,
		Result:      result,
		ScheduledAt: now,
		CompletedAt: &now,
	}
	if err := s.SaveInvocation(ctx, inv); err != nil {
		t.Fatalf("SaveInvocation: %v", err)
	}
	return run
}

func TestResume_SkipsRecordedSteps(t *testing.T) {
	d := greetDispatcher()
	runner, _, s := newTestRunner(d)
	run := seedRun(t, s, "upper")

	if err := runner.Resume(context.Background(), run.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	got, _ := s.GetRun(context.Background(), run.ID)
	if got.State != workflow.RunStateCompleted {
		t.Fatalf("state = %q, want completed (%s)", got.State, got.Error)
	}
	if out := decodeString(t, got.Output); out != "GIORGIO!" {
		t.Errorf("output = %q", out)
	}
	if n := d.count("upper"); n != 0 {
		t.Errorf("recorded step dispatched %d times", n)
	}
	if n := d.count("exclaim"); n != 1 {
		t.Errorf("exclaim dispatched %d times, want 1", n)
	}
}

func TestResume_TerminalRunRejected(t *testing.T) {
	runner, _, _ := newTestRunner(greetDispatcher())
	run, err := runner.Execute(context.Background(), "greet", "k", "x")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := runner.Resume(context.Background(), run.ID); !errors.Is(err, ragflow.ErrInvalidState) {
		t.Fatalf("Resume = %v, want ErrInvalidState", err)
	}
}

func TestResume_TamperedHistoryFailsRun(t *testing.T) {
	d := greetDispatcher()
	runner, _, s := newTestRunner(d)
	run := seedRun(t, s, "lower")

	if err := runner.Resume(context.Background(), run.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	got, _ := s.GetRun(context.Background(), run.ID)
	if got.State != workflow.RunStateFailed {
		t.Fatalf("state = %q, want failed", got.State)
	}
	if !strings.Contains(got.Error, ragflow.ErrNondeterminism.Error()) {
		t.Errorf("Error = %q, want nondeterminism", got.Error)
	}
	if n := d.count("upper") + d.count("exclaim"); n != 0 {
		t.Errorf("dispatched %d steps after nondeterminism", n)
	}
}

func TestResume_SwallowedNondeterminismStillFails(t *testing.T) {
	d := greetDispatcher()
	runner, reg, s := newTestRunner(d)
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("greet", func(wf *workflow.Workflow, name string) (string, error) {
		if _, err := workflow.ExecuteActivity[string](wf, "upper", name); err != nil {
			return "ignored", nil
		}
		return "", nil
	}))
	run := seedRun(t, s, "lower")

	if err := runner.Resume(context.Background(), run.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	got, _ := s.GetRun(context.Background(), run.ID)
	if got.State != workflow.RunStateFailed {
		t.Fatalf("state = %q, want failed", got.State)
	}
}

// ──────────────────────────────────────────────────
// Replay
// ──────────────────────────────────────────────────

func TestReplay_CompletedRunMatches(t *testing.T) {
	d := greetDispatcher()
	runner, _, _ := newTestRunner(d)
	ctx := context.Background()

	run, err := runner.Execute(ctx, "greet", "k", "mark")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	before := d.count("upper") + d.count("exclaim")

	res, err := runner.Replay(ctx, run.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if !res.Matches {
		t.Fatalf("replay does not match: %s", res.Error)
	}
	if len(res.Decisions) != 2 || res.Decisions[0].Activity != "upper" || res.Decisions[1].Activity != "exclaim" {
		t.Errorf("decisions = %+v", res.Decisions)
	}
	if !res.Output.Equal(run.Output) {
		t.Error("replayed output differs from recorded output")
	}
	if after := d.count("upper") + d.count("exclaim"); after != before {
		t.Errorf("replay dispatched %d activities", after-before)
	}
}

func TestReplay_FailedRunMatches(t *testing.T) {
	d := greetDispatcher()
	d.handle("exclaim", func(_ context.Context, task *activity.Task) *activity.Outcome {
		return activity.Failed(task, activity.NonRetryable(errors.New("no punctuation")), 0)
	})
	runner, _, _ := newTestRunner(d)

	run, err := runner.Execute(context.Background(), "greet", "k", "ana")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.State != workflow.RunStateFailed {
		t.Fatalf("state = %q, want failed", run.State)
	}

	res, err := runner.Replay(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if !res.Matches {
		t.Fatalf("replay does not match: got %q, recorded %q", res.Error, run.Error)
	}
}

func TestReplay_ChangedWorkflowDetected(t *testing.T) {
	d := greetDispatcher()
	runner, reg, _ := newTestRunner(d)
	ctx := context.Background()

	run, err := runner.Execute(ctx, "greet", "k", "sofia")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// Redefine the workflow so its second decision differs.
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("greet", func(wf *workflow.Workflow, name string) (string, error) {
		up, err := workflow.ExecuteActivity[string](wf, "upper", name)
		if err != nil {
			return "", err
		}
		return workflow.ExecuteActivity[string](wf, "question", up)
	}))

	res, err := runner.Replay(ctx, run.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if res.Matches {
		t.Fatal("replay of a changed workflow reported a match")
	}
	if !strings.Contains(res.Error, ragflow.ErrNondeterminism.Error()) {
		t.Errorf("Error = %q, want nondeterminism", res.Error)
	}
	if d.count("question") != 0 {
		t.Error("replay dispatched a new activity")
	}
}

func TestReplay_ExtraStepDetected(t *testing.T) {
	runner, reg, _ := newTestRunner(greetDispatcher())
	ctx := context.Background()

	run, err := runner.Execute(ctx, "greet", "k", "jean")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	workflow.RegisterDefinition(reg, workflow.NewWorkflow("greet", func(wf *workflow.Workflow, name string) (string, error) {
		return workflow.ExecuteActivity[string](wf, "upper", name)
	}))

	res, err := runner.Replay(ctx, run.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if res.Matches {
		t.Fatal("replay that skipped a recorded step reported a match")
	}
}

func TestReplayFrom_RedispatchesLaterSteps(t *testing.T) {
	d := greetDispatcher()
	runner, _, _ := newTestRunner(d)
	ctx := context.Background()

	run, err := runner.Execute(ctx, "greet", "k", "giorgio")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	replayed, err := runner.ReplayFrom(ctx, run.ID, 1)
	if err != nil {
		t.Fatalf("ReplayFrom: %v", err)
	}
	if replayed.State != workflow.RunStateCompleted {
		t.Fatalf("state = %q, want completed", replayed.State)
	}
	if replayed.ID.String() != run.ID.String() {
		t.Error("ReplayFrom created a new run")
	}
	if n := d.count("upper"); n != 1 {
		t.Errorf("upper dispatched %d times, want 1", n)
	}
	if n := d.count("exclaim"); n != 2 {
		t.Errorf("exclaim dispatched %d times, want 2", n)
	}

	if _, err := runner.ReplayFrom(ctx, run.ID, -1); !errors.Is(err, ragflow.ErrInvalidState) {
		t.Errorf("negative seq = %v, want ErrInvalidState", err)
	}
}

func TestHistory_UnknownRun(t *testing.T) {
	runner, _, _ := newTestRunner(greetDispatcher())
	if _, err := runner.History(context.Background(), id.NewRunID()); !errors.Is(err, ragflow.ErrRunNotFound) {
		t.Fatalf("History = %v, want ErrRunNotFound", err)
	}
}
