package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/ragflow"
	"github.com/xraph/ragflow/activity"
	"github.com/xraph/ragflow/backoff"
	"github.com/xraph/ragflow/converter"
	"github.com/xraph/ragflow/id"
)

// ErrStopped is the cancellation cause of runs interrupted by Runner.Stop.
// Such runs stay running in the store and are picked up by ResumeAll.
var ErrStopped = errors.New("workflow: runner stopped")

// Dispatcher hands one attempt to a worker and waits for its outcome. It
// must return promptly with a cancelled outcome once ctx is done.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *activity.Task) *activity.Outcome
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, task *activity.Task) *activity.Outcome

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(ctx context.Context, task *activity.Task) *activity.Outcome {
	return f(ctx, task)
}

// ActivityCatalog exposes declared activity options to the coordinator.
type ActivityCatalog interface {
	Get(name string) (*activity.Definition, bool)
}

// ActivityOptions overrides per-call scheduling. Zero fields fall back to
// the configured step timeout, then the activity's declared options, then
// the orchestrator defaults.
type ActivityOptions struct {
	StartToCloseTimeout time.Duration
	TaskQueue           string
	RetryPolicy         *activity.RetryPolicy
}

// environment is shared by every Workflow a Runner creates.
type environment struct {
	store      Store
	dispatcher Dispatcher
	catalog    ActivityCatalog
	converter  converter.DataConverter
	config     ragflow.Config
	backoff    backoff.Strategy
	emitter    RunEmitter
	logger     *slog.Logger
}

// Workflow is the context a workflow function runs in. It is not safe for
// concurrent use; use Parallel to run independent steps together.
type Workflow struct {
	ctx        context.Context
	run        *Run
	env        *environment
	history    map[int]*Invocation
	decisions  []Decision
	seq        int
	replayOnly bool

	// beforeSchedule runs before a step is dispatched for the first time.
	// The runner uses it to renew the run's lease, which cancels the run
	// when it was made terminal elsewhere.
	beforeSchedule func()

	// fault is the first nondeterminism error. It fails the run even when
	// the workflow function swallows it.
	fault error
}

func newWorkflow(ctx context.Context, run *Run, env *environment, history []*Invocation, replayOnly bool) *Workflow {
	byseq := make(map[int]*Invocation, len(history))
	for _, inv := range history {
		byseq[inv.Seq] = inv
	}
	return &Workflow{
		ctx:        ctx,
		run:        run,
		env:        env,
		history:    byseq,
		replayOnly: replayOnly,
	}
}

// Context returns the run context. It is cancelled with ragflow.ErrCancelled
// when the run is cancelled.
func (w *Workflow) Context() context.Context { return w.ctx }

// RunID returns the ID of the run being executed.
func (w *Workflow) RunID() id.RunID { return w.run.ID }

// Name returns the workflow name.
func (w *Workflow) Name() string { return w.run.Name }

// IsReplaying reports whether the next step will be served from history.
func (w *Workflow) IsReplaying() bool {
	if w.replayOnly {
		return true
	}
	inv, ok := w.history[w.seq+1]
	return ok && inv.State.Terminal()
}

// Logger returns a logger carrying the run's attributes.
func (w *Workflow) Logger() *slog.Logger {
	return w.env.logger.With(
		slog.String("run_id", w.run.ID.String()),
		slog.String("workflow", w.run.Name),
	)
}

// Decisions returns the steps scheduled so far.
func (w *Workflow) Decisions() []Decision {
	out := make([]Decision, len(w.decisions))
	copy(out, w.decisions)
	return out
}

// ExecuteActivity schedules the named activity and blocks until it
// resolves, decoding its result into R.
//
// This is a package-level generic function because Go does not allow
// generic methods.
func ExecuteActivity[R any](wf *Workflow, name string, args ...any) (R, error) {
	return ExecuteActivityWithOptions[R](wf, ActivityOptions{}, name, args...)
}

// ExecuteActivityWithOptions is ExecuteActivity with per-call overrides.
func ExecuteActivityWithOptions[R any](wf *Workflow, opts ActivityOptions, name string, args ...any) (R, error) {
	p, err := wf.execute(opts, name, args)
	if err != nil {
		var zero R
		return zero, err
	}
	return Decode[R](wf, name, p)
}

// step is one prepared activity call. A step resolved from history has
// done set and carries its recorded result or error.
type step struct {
	inv    *Invocation
	queue  string
	policy *activity.RetryPolicy

	done   bool
	result *converter.Payload
	err    error
}

func resolved(result *converter.Payload, err error) *step {
	return &step{done: true, result: result, err: err}
}

// execute resolves one step: from history when recorded, otherwise by
// dispatching attempts until success or the retry cap.
func (w *Workflow) execute(opts ActivityOptions, name string, args []any) (*converter.Payload, error) {
	s := w.prepare(opts, name, args)
	if s.done {
		return s.result, s.err
	}
	return w.dispatch(s.inv, s.queue, s.policy)
}

// prepare takes the next sequence number for the call and either resolves
// it from history or records it as scheduled.
func (w *Workflow) prepare(opts ActivityOptions, name string, args []any) *step {
	input, err := w.env.converter.ToPayloads(args...)
	if err != nil {
		return resolved(nil, activity.NewError(name, activity.KindFailure, activity.NonRetryable(err)))
	}

	w.seq++
	seq := w.seq
	w.decisions = append(w.decisions, Decision{Seq: seq, Activity: name, Input: input})

	inv, recorded := w.history[seq]
	if recorded {
		if inv.Activity != name || !converter.EqualPayloads(inv.Input, input) {
			return resolved(nil, w.nondeterminism(fmt.Errorf("%w: step %d scheduled %q, history has %q",
				ragflow.ErrNondeterminism, seq, name, inv.Activity)))
		}
		switch inv.State {
		case InvocationSucceeded:
			return resolved(inv.Result, nil)
		case InvocationScheduled:
		default:
			return resolved(nil, inv.Err())
		}
	}
	if w.replayOnly {
		if recorded {
			return resolved(nil, fmt.Errorf("%w: step %d (%s) has no recorded outcome", ragflow.ErrInvalidState, seq, name))
		}
		return resolved(nil, w.nondeterminism(fmt.Errorf("%w: step %d (%s) is not in the history",
			ragflow.ErrNondeterminism, seq, name)))
	}

	if w.beforeSchedule != nil {
		w.beforeSchedule()
	}
	if cause := context.Cause(w.ctx); cause != nil {
		return resolved(nil, activity.NewError(name, activity.KindCancelled, cause))
	}

	timeout, queue, policy := w.resolve(opts, name)
	if !recorded {
		inv = &Invocation{
			ID:          id.NewInvocationID(),
			RunID:       w.run.ID,
			Seq:         seq,
			Activity:    name,
			Input:       input,
			Timeout:     timeout,
			State:       InvocationScheduled,
			ScheduledAt: time.Now().UTC(),
		}
		if err := w.env.store.SaveInvocation(w.ctx, inv); err != nil {
			return resolved(nil, fmt.Errorf("record step %d (%s): %w", seq, name, err))
		}
		w.env.emitter.EmitStepScheduled(w.ctx, w.run, inv)
	}

	return &step{inv: inv, queue: queue, policy: policy}
}

func (w *Workflow) nondeterminism(err error) error {
	if w.fault == nil {
		w.fault = err
	}
	return err
}

func (w *Workflow) resolve(opts ActivityOptions, name string) (time.Duration, string, *activity.RetryPolicy) {
	cfg := w.env.config

	var declared activity.Options
	if w.env.catalog != nil {
		if def, ok := w.env.catalog.Get(name); ok {
			declared = def.Opts
		}
	}

	timeout := opts.StartToCloseTimeout
	if timeout <= 0 {
		timeout = cfg.StepTimeout(name)
	}
	if timeout <= 0 {
		timeout = declared.StartToCloseTimeout
	}
	if timeout <= 0 {
		timeout = cfg.DefaultStepTimeout
	}

	queue := opts.TaskQueue
	if queue == "" {
		queue = declared.TaskQueue
	}
	if queue == "" {
		queue = cfg.TaskQueue
	}

	policy := opts.RetryPolicy
	if policy == nil {
		policy = declared.RetryPolicy
	}
	if policy == nil {
		policy = &activity.RetryPolicy{MaxAttempts: cfg.MaxAttempts, Backoff: w.env.backoff}
	}

	return timeout, queue, policy
}

// dispatch runs the attempt loop for a scheduled invocation.
func (w *Workflow) dispatch(inv *Invocation, queue string, policy *activity.RetryPolicy) (*converter.Payload, error) {
	maxAttempts := policy.Attempts()

	for attempt := inv.Attempts + 1; ; attempt++ {
		inv.Attempts = attempt
		task := &activity.Task{
			ID:       inv.ID,
			RunID:    inv.RunID,
			Seq:      inv.Seq,
			Activity: inv.Activity,
			Queue:    queue,
			Input:    inv.Input,
			Timeout:  inv.Timeout,
			Attempt:  attempt,
		}

		out := w.env.dispatcher.Dispatch(w.ctx, task)
		if cause := context.Cause(w.ctx); cause != nil {
			return nil, w.abandon(inv, cause)
		}

		if out.Status == activity.StatusSucceeded {
			now := time.Now().UTC()
			inv.State = InvocationSucceeded
			inv.Result = out.Result
			inv.CompletedAt = &now
			if err := w.env.store.SaveInvocation(w.ctx, inv); err != nil {
				return nil, fmt.Errorf("record step %d (%s): %w", inv.Seq, inv.Activity, err)
			}
			w.env.emitter.EmitStepCompleted(w.ctx, w.run, inv, out.Elapsed)
			return out.Result, nil
		}

		aerr := out.Err
		if aerr == nil {
			aerr = activity.NewError(inv.Activity, activity.KindFailure, nil)
		}

		// A cancelled attempt with a live run means the worker went away.
		retryable := out.Retryable() || out.Status == activity.StatusCancelled
		if !retryable || attempt >= maxAttempts {
			return nil, w.fail(inv, out.Status, aerr)
		}

		delay := policy.Delay(attempt)
		w.Logger().Warn("activity attempt failed, retrying",
			slog.String("activity", inv.Activity),
			slog.Int("seq", inv.Seq),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", aerr.Message),
		)
		if err := w.env.store.SaveInvocation(w.ctx, inv); err != nil {
			return nil, fmt.Errorf("record step %d (%s): %w", inv.Seq, inv.Activity, err)
		}
		w.env.emitter.EmitStepRetrying(w.ctx, w.run, inv, attempt, delay)

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-w.ctx.Done():
				timer.Stop()
				return nil, w.abandon(inv, context.Cause(w.ctx))
			}
		}
	}
}

// fail records a step whose attempts are exhausted.
func (w *Workflow) fail(inv *Invocation, status activity.Status, aerr *activity.Error) error {
	now := time.Now().UTC()
	inv.State = InvocationFailed
	if status == activity.StatusTimedOut {
		inv.State = InvocationTimedOut
	}
	inv.Error = aerr.Message
	inv.ErrorKind = aerr.Kind
	inv.CompletedAt = &now

	final := *aerr
	final.Attempts = inv.Attempts

	if err := w.env.store.SaveInvocation(w.ctx, inv); err != nil {
		return fmt.Errorf("record step %d (%s): %w", inv.Seq, inv.Activity, err)
	}
	w.env.emitter.EmitStepFailed(w.ctx, w.run, inv, &final)
	return &final
}

// abandon stops the step after the run context ended. A cancelled run
// records the step as cancelled; a stopped runner leaves it scheduled so
// a resumed run dispatches it again.
func (w *Workflow) abandon(inv *Invocation, cause error) error {
	ctx := context.WithoutCancel(w.ctx)
	if errors.Is(cause, ragflow.ErrCancelled) {
		now := time.Now().UTC()
		inv.State = InvocationCancelled
		inv.ErrorKind = activity.KindCancelled
		inv.Error = cause.Error()
		inv.CompletedAt = &now
	}
	if err := w.env.store.SaveInvocation(ctx, inv); err != nil {
		w.Logger().Error("failed to record abandoned step",
			slog.Int("seq", inv.Seq),
			slog.String("error", err.Error()),
		)
	}
	return activity.NewError(inv.Activity, activity.KindCancelled, cause)
}
