package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/ragflow/activity"
	"github.com/xraph/ragflow/workflow"
)

var _ workflow.RunEmitter = (*Registry)(nil)

// entry pairs a hook implementation with the extension name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	runStarted        []entry[RunStarted]
	runCompleted      []entry[RunCompleted]
	runFailed         []entry[RunFailed]
	runCancelled      []entry[RunCancelled]
	stepScheduled     []entry[StepScheduled]
	stepCompleted     []entry[StepCompleted]
	stepFailed        []entry[StepFailed]
	stepRetrying      []entry[StepRetrying]
	activityStarted   []entry[ActivityStarted]
	activityCompleted []entry[ActivityCompleted]
	activityFailed    []entry[ActivityFailed]
	shutdown          []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	cache(&r.runStarted, name, e)
	cache(&r.runCompleted, name, e)
	cache(&r.runFailed, name, e)
	cache(&r.runCancelled, name, e)
	cache(&r.stepScheduled, name, e)
	cache(&r.stepCompleted, name, e)
	cache(&r.stepFailed, name, e)
	cache(&r.stepRetrying, name, e)
	cache(&r.activityStarted, name, e)
	cache(&r.activityCompleted, name, e)
	cache(&r.activityFailed, name, e)
	cache(&r.shutdown, name, e)
}

func cache[H any](list *[]entry[H], name string, e Extension) {
	if h, ok := e.(H); ok {
		*list = append(*list, entry[H]{name: name, hook: h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// emit calls fn for every entry, logging hook errors.
func emit[H any](r *Registry, hookName string, list []entry[H], fn func(H) error) {
	for _, e := range list {
		if err := fn(e.hook); err != nil {
			r.logHookError(hookName, e.name, err)
		}
	}
}

// ── Run events ──────────────────────────────────────

// EmitRunStarted notifies all extensions that implement RunStarted.
func (r *Registry) EmitRunStarted(ctx context.Context, run *workflow.Run) {
	emit(r, "OnRunStarted", r.runStarted, func(h RunStarted) error {
		return h.OnRunStarted(ctx, run)
	})
}

// EmitRunCompleted notifies all extensions that implement RunCompleted.
func (r *Registry) EmitRunCompleted(ctx context.Context, run *workflow.Run, elapsed time.Duration) {
	emit(r, "OnRunCompleted", r.runCompleted, func(h RunCompleted) error {
		return h.OnRunCompleted(ctx, run, elapsed)
	})
}

// EmitRunFailed notifies all extensions that implement RunFailed.
func (r *Registry) EmitRunFailed(ctx context.Context, run *workflow.Run, runErr error) {
	emit(r, "OnRunFailed", r.runFailed, func(h RunFailed) error {
		return h.OnRunFailed(ctx, run, runErr)
	})
}

// EmitRunCancelled notifies all extensions that implement RunCancelled.
func (r *Registry) EmitRunCancelled(ctx context.Context, run *workflow.Run) {
	emit(r, "OnRunCancelled", r.runCancelled, func(h RunCancelled) error {
		return h.OnRunCancelled(ctx, run)
	})
}

// ── Step events ─────────────────────────────────────

// EmitStepScheduled notifies all extensions that implement StepScheduled.
func (r *Registry) EmitStepScheduled(ctx context.Context, run *workflow.Run, inv *workflow.Invocation) {
	emit(r, "OnStepScheduled", r.stepScheduled, func(h StepScheduled) error {
		return h.OnStepScheduled(ctx, run, inv)
	})
}

// EmitStepCompleted notifies all extensions that implement StepCompleted.
func (r *Registry) EmitStepCompleted(ctx context.Context, run *workflow.Run, inv *workflow.Invocation, elapsed time.Duration) {
	emit(r, "OnStepCompleted", r.stepCompleted, func(h StepCompleted) error {
		return h.OnStepCompleted(ctx, run, inv, elapsed)
	})
}

// EmitStepFailed notifies all extensions that implement StepFailed.
func (r *Registry) EmitStepFailed(ctx context.Context, run *workflow.Run, inv *workflow.Invocation, stepErr error) {
	emit(r, "OnStepFailed", r.stepFailed, func(h StepFailed) error {
		return h.OnStepFailed(ctx, run, inv, stepErr)
	})
}

// EmitStepRetrying notifies all extensions that implement StepRetrying.
func (r *Registry) EmitStepRetrying(ctx context.Context, run *workflow.Run, inv *workflow.Invocation, attempt int, delay time.Duration) {
	emit(r, "OnStepRetrying", r.stepRetrying, func(h StepRetrying) error {
		return h.OnStepRetrying(ctx, run, inv, attempt, delay)
	})
}

// ── Activity events ─────────────────────────────────

// EmitActivityStarted notifies all extensions that implement ActivityStarted.
func (r *Registry) EmitActivityStarted(ctx context.Context, t *activity.Task) {
	emit(r, "OnActivityStarted", r.activityStarted, func(h ActivityStarted) error {
		return h.OnActivityStarted(ctx, t)
	})
}

// EmitActivityCompleted notifies all extensions that implement ActivityCompleted.
func (r *Registry) EmitActivityCompleted(ctx context.Context, t *activity.Task, elapsed time.Duration) {
	emit(r, "OnActivityCompleted", r.activityCompleted, func(h ActivityCompleted) error {
		return h.OnActivityCompleted(ctx, t, elapsed)
	})
}

// EmitActivityFailed notifies all extensions that implement ActivityFailed.
func (r *Registry) EmitActivityFailed(ctx context.Context, t *activity.Task, out *activity.Outcome) {
	emit(r, "OnActivityFailed", r.activityFailed, func(h ActivityFailed) error {
		return h.OnActivityFailed(ctx, t, out)
	})
}

// ── Other events ────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(r, "OnShutdown", r.shutdown, func(h Shutdown) error {
		return h.OnShutdown(ctx)
	})
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors are never propagated to the run.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
