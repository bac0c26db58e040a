package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/ragflow"
	"github.com/xraph/ragflow/activity"
	"github.com/xraph/ragflow/backoff"
	"github.com/xraph/ragflow/engine"
	"github.com/xraph/ragflow/graph"
	"github.com/xraph/ragflow/id"
	"github.com/xraph/ragflow/query"
	"github.com/xraph/ragflow/queue"
	"github.com/xraph/ragflow/store/memory"
	"github.com/xraph/ragflow/workflow"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newEngine builds and starts an engine over s. Stop runs at cleanup.
func newEngine(t *testing.T, s *memory.Store, ropts []ragflow.Option, opts ...engine.Option) *engine.Engine {
	t.Helper()
	base := []ragflow.Option{
		ragflow.WithStore(s),
		ragflow.WithLogger(quietLogger()),
		ragflow.WithConcurrency(2),
	}
	o, err := ragflow.New(append(base, ropts...)...)
	if err != nil {
		t.Fatalf("ragflow.New: %v", err)
	}
	eng, err := engine.Build(o, append([]engine.Option{engine.WithBackoff(backoff.None)}, opts...)...)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	})
	return eng
}

func decodeAnswer(t *testing.T, eng *engine.Engine, run *workflow.Run) string {
	t.Helper()
	if run.State != workflow.RunStateCompleted {
		t.Fatalf("run state = %s, error = %q", run.State, run.Error)
	}
	var res query.AnswerResult
	if err := eng.Converter().FromPayload(run.Output, &res); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	return res.Answer
}

// ──────────────────────────────────────────────────
// Build
// ──────────────────────────────────────────────────

func TestBuild_RequiresStore(t *testing.T) {
	o, err := ragflow.New(ragflow.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("ragflow.New: %v", err)
	}
	if _, err := engine.Build(o); !errors.Is(err, ragflow.ErrNoStore) {
		t.Fatalf("Build = %v, want ErrNoStore", err)
	}
}

func TestBuild_UnknownCodec(t *testing.T) {
	cfg := ragflow.DefaultConfig()
	cfg.Codec = "xml"
	o, _ := ragflow.New(ragflow.WithStore(memory.New()), ragflow.WithConfig(cfg))
	if _, err := engine.Build(o); !errors.Is(err, ragflow.ErrUnknownEncoding) {
		t.Fatalf("Build = %v, want ErrUnknownEncoding", err)
	}
}

func TestBuild_RegistersQueryDomain(t *testing.T) {
	o, _ := ragflow.New(ragflow.WithStore(memory.New()), ragflow.WithLogger(quietLogger()))
	eng, err := engine.Build(o)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for _, name := range []string{query.WorkflowPipeline, query.WorkflowQuery} {
		if _, ok := eng.Workflows().Get(name); !ok {
			t.Errorf("workflow %q not registered", name)
		}
	}
	if got := len(eng.Activities().Names()); got != 7 {
		t.Errorf("%d activities registered, want 7", got)
	}
	def, _ := eng.Activities().Get(query.ActivityRunQuery)
	if def.Opts.TaskQueue != "rag-task-queue" || def.Opts.StartToCloseTimeout != 30*time.Second {
		t.Errorf("run_query options = %+v", def.Opts)
	}

	p, err := eng.Converter().ToPayload(graph.New())
	if err != nil || p.Encoding != graph.Encoding {
		t.Fatalf("pipeline encoded as %v (%v), want %s", p, err, graph.Encoding)
	}
}

// ──────────────────────────────────────────────────
// End to end
// ──────────────────────────────────────────────────

func TestEngine_WhoLivesInRome(t *testing.T) {
	eng := newEngine(t, memory.New(), nil)

	run, err := eng.ExecuteWorkflow(context.Background(), query.WorkflowPipeline, "Who lives in Rome?")
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if run.Key != "query-Who lives in Rome?" {
		t.Errorf("run key = %q", run.Key)
	}
	var req query.QueryRequest
	if err := eng.Converter().FromPayload(run.Input, &req); err != nil {
		t.Fatalf("decode run input: %v", err)
	}
	if req.Question != "Who lives in Rome?" {
		t.Errorf("run input question = %q", req.Question)
	}
	if answer := decodeAnswer(t, eng, run); !strings.Contains(answer, "Giorgio") {
		t.Fatalf("answer = %q, want it to mention Giorgio", answer)
	}
}

func TestEngine_EmptyQuestion(t *testing.T) {
	eng := newEngine(t, memory.New(), nil)

	run, err := eng.ExecuteWorkflow(context.Background(), query.WorkflowPipeline, "")
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if answer := decodeAnswer(t, eng, run); answer == "" {
		t.Fatal("empty answer")
	}
}

func TestEngine_QueueConfigLimitsConcurrency(t *testing.T) {
	eng := newEngine(t, memory.New(), nil, engine.WithQueueConfig(queue.Config{
		Name:           "rag-task-queue",
		MaxConcurrency: 1,
	}))
	if eng.QueueManager() == nil {
		t.Fatal("queue manager not created")
	}

	run, err := eng.ExecuteWorkflow(context.Background(), query.WorkflowPipeline, "Who lives in Lisbon?")
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if answer := decodeAnswer(t, eng, run); !strings.Contains(answer, "Ana") {
		t.Fatalf("answer = %q, want it to mention Ana", answer)
	}
}

// ──────────────────────────────────────────────────
// Retries
// ──────────────────────────────────────────────────

func TestEngine_TimeoutThenRetry(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	var attempts atomic.Int32
	eng := newEngine(t, memory.New(),
		[]ragflow.Option{
			ragflow.WithMaxAttempts(3),
			ragflow.WithStepTimeout("hang", 30*time.Millisecond),
		},
	)
	eng.RegisterActivity(activity.NewDefinition0("hang", func(context.Context) (string, error) {
		attempts.Add(1)
		<-release
		return "late", nil
	}))
	engine.RegisterWorkflow(eng, workflow.NewWorkflow("hang-flow", func(wf *workflow.Workflow, _ query.QueryRequest) (string, error) {
		return workflow.ExecuteActivity[string](wf, "hang")
	}))

	run, err := eng.ExecuteWorkflow(context.Background(), "hang-flow", "q")
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if run.State != workflow.RunStateFailed {
		t.Fatalf("state = %s, want failed", run.State)
	}
	if n := attempts.Load(); n != 3 {
		t.Fatalf("attempts = %d, want 3", n)
	}

	history, _ := eng.Runner().History(context.Background(), run.ID)
	if len(history) != 1 {
		t.Fatalf("history has %d entries", len(history))
	}
	if inv := history[0]; inv.State != workflow.InvocationTimedOut || inv.Attempts != 3 {
		t.Fatalf("invocation = %+v", inv)
	}
	if !errors.Is(history[0].Err(), ragflow.ErrActivityTimeout) {
		t.Fatalf("invocation error = %v, want ErrActivityTimeout", history[0].Err())
	}
}

// ──────────────────────────────────────────────────
// Extensions and metrics
// ──────────────────────────────────────────────────

type lifecycleTracker struct {
	runStarted        atomic.Bool
	runCompleted      atomic.Bool
	stepsCompleted    atomic.Int32
	activitiesStarted atomic.Int32
	shutdown          atomic.Bool
}

func (e *lifecycleTracker) Name() string { return "lifecycle-tracker" }

func (e *lifecycleTracker) OnRunStarted(context.Context, *workflow.Run) error {
	e.runStarted.Store(true)
	return nil
}

func (e *lifecycleTracker) OnRunCompleted(context.Context, *workflow.Run, time.Duration) error {
	e.runCompleted.Store(true)
	return nil
}

func (e *lifecycleTracker) OnStepCompleted(context.Context, *workflow.Run, *workflow.Invocation, time.Duration) error {
	e.stepsCompleted.Add(1)
	return nil
}

func (e *lifecycleTracker) OnActivityStarted(context.Context, *activity.Task) error {
	e.activitiesStarted.Add(1)
	return nil
}

func (e *lifecycleTracker) OnShutdown(context.Context) error {
	e.shutdown.Store(true)
	return nil
}

func TestEngine_ExtensionLifecycleEvents(t *testing.T) {
	tracker := &lifecycleTracker{}
	o, _ := ragflow.New(ragflow.WithStore(memory.New()), ragflow.WithLogger(quietLogger()))
	eng, err := engine.Build(o, engine.WithExtension(tracker))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := eng.ExecuteWorkflow(context.Background(), query.WorkflowPipeline, "Who lives in Madrid?"); err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}

	if !tracker.runStarted.Load() || !tracker.runCompleted.Load() {
		t.Error("expected run started and completed hooks")
	}
	if n := tracker.stepsCompleted.Load(); n != 6 {
		t.Errorf("steps completed = %d, want 6", n)
	}
	if n := tracker.activitiesStarted.Load(); n != 6 {
		t.Errorf("activities started = %d, want 6", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !tracker.shutdown.Load() {
		t.Error("expected OnShutdown to fire on stop")
	}
}

func TestEngine_MeterProvider(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	eng := newEngine(t, memory.New(), nil, engine.WithMeterProvider(mp))

	if _, err := eng.ExecuteWorkflow(context.Background(), query.WorkflowQuery, "Who lives in Paris?"); err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = true
		}
	}
	for _, name := range []string{"ragflow.activity.attempts", "ragflow.run.started", "ragflow.run.completed"} {
		if !found[name] {
			t.Errorf("metric %s not recorded", name)
		}
	}
}

// ──────────────────────────────────────────────────
// Crash recovery
// ──────────────────────────────────────────────────

func TestEngine_StartResumesRunningRuns(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	// A run left running by a crashed process, with its first step done.
	o, _ := ragflow.New(ragflow.WithStore(s), ragflow.WithLogger(quietLogger()))
	seed, err := engine.Build(o)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	input, _ := seed.Converter().ToPayload(query.QueryRequest{Question: "Who lives in Rome?"})
	run := &workflow.Run{
		Entity:    ragflow.NewEntity(),
		ID:        id.NewRunID(),
		Key:       "query-Who lives in Rome?",
		Name:      query.WorkflowQuery,
		TaskQueue: "rag-task-queue",
		State:     workflow.RunStateRunning,
		Input:     input,
		StartedAt: time.Now().UTC(),
	}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	eng := newEngine(t, s, nil)

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := s.GetRun(ctx, run.ID)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if got.State.Terminal() {
			if answer := decodeAnswer(t, eng, got); !strings.Contains(answer, "Giorgio") {
				t.Fatalf("answer = %q", answer)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("run was not resumed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
