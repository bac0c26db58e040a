package workflow_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/ragflow"
	"github.com/xraph/ragflow/activity"
	"github.com/xraph/ragflow/backoff"
	"github.com/xraph/ragflow/converter"
	"github.com/xraph/ragflow/store/memory"
	"github.com/xraph/ragflow/workflow"
)

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var conv = converter.New()

type handlerFunc func(ctx context.Context, task *activity.Task) *activity.Outcome

// fakeDispatcher routes tasks to scripted handlers and counts attempts.
type fakeDispatcher struct {
	mu       sync.Mutex
	handlers map[string]handlerFunc
	calls    map[string]int
	tasks    []*activity.Task
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		handlers: make(map[string]handlerFunc),
		calls:    make(map[string]int),
	}
}

func (d *fakeDispatcher) handle(name string, h handlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = h
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, task *activity.Task) *activity.Outcome {
	d.mu.Lock()
	d.calls[task.Activity]++
	d.tasks = append(d.tasks, task)
	h := d.handlers[task.Activity]
	d.mu.Unlock()

	if h == nil {
		return activity.Failed(task, activity.NonRetryable(ragflow.ErrActivityNotFound), 0)
	}
	return h(ctx, task)
}

func (d *fakeDispatcher) count(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[name]
}

func (d *fakeDispatcher) lastTask(name string) *activity.Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.tasks) - 1; i >= 0; i-- {
		if d.tasks[i].Activity == name {
			return d.tasks[i]
		}
	}
	return nil
}

// stringActivity decodes one string argument and returns fn of it.
func stringActivity(fn func(string) string) handlerFunc {
	return func(_ context.Context, task *activity.Task) *activity.Outcome {
		var s string
		if err := conv.FromPayloads(task.Input, &s); err != nil {
			return activity.Failed(task, activity.NonRetryable(err), 0)
		}
		p, err := conv.ToPayload(fn(s))
		if err != nil {
			return activity.Failed(task, activity.NonRetryable(err), 0)
		}
		return activity.Succeeded(p, time.Millisecond)
	}
}

// blockingActivity signals started and waits for the run context to end.
func blockingActivity(started chan<- struct{}) handlerFunc {
	return func(ctx context.Context, task *activity.Task) *activity.Outcome {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return activity.Cancelled(task, context.Cause(ctx))
	}
}

// greetWorkflow upper-cases its input, then appends "!".
var greetWorkflow = workflow.NewWorkflow("greet", func(wf *workflow.Workflow, name string) (string, error) {
	up, err := workflow.ExecuteActivity[string](wf, "upper", name)
	if err != nil {
		return "", err
	}
	return workflow.ExecuteActivity[string](wf, "exclaim", up)
})

func greetDispatcher() *fakeDispatcher {
	d := newFakeDispatcher()
	d.handle("upper", stringActivity(strings.ToUpper))
	d.handle("exclaim", stringActivity(func(s string) string { return s + "!" }))
	return d
}

func testConfig() ragflow.Config {
	cfg := ragflow.DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.MaxAttempts = 3
	return cfg
}

// newTestRunner creates a runner over a fresh memory store with the greet
// workflow registered and no delay between attempts.
func newTestRunner(d workflow.Dispatcher, opts ...workflow.RunnerOption) (*workflow.Runner, *workflow.Registry, *memory.Store) {
	s := memory.New()
	return newTestRunnerWithStore(s, d, opts...)
}

func newTestRunnerWithStore(s *memory.Store, d workflow.Dispatcher, opts ...workflow.RunnerOption) (*workflow.Runner, *workflow.Registry, *memory.Store) {
	reg := workflow.NewRegistry()
	workflow.RegisterDefinition(reg, greetWorkflow)
	base := []workflow.RunnerOption{
		workflow.WithConfig(testConfig()),
		workflow.WithBackoff(backoff.None),
	}
	runner := workflow.NewRunner(reg, s, d, nil, testLogger(), append(base, opts...)...)
	return runner, reg, s
}

func decodeString(t *testing.T, p *converter.Payload) string {
	t.Helper()
	var s string
	if err := conv.FromPayload(p, &s); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	return s
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
