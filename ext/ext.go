package ext

import (
	"context"
	"time"

	"github.com/xraph/ragflow/activity"
	"github.com/xraph/ragflow/workflow"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Run lifecycle hooks
// ──────────────────────────────────────────────────

// RunStarted is called when a new run is created.
type RunStarted interface {
	OnRunStarted(ctx context.Context, r *workflow.Run) error
}

// RunCompleted is called after a run finishes successfully.
type RunCompleted interface {
	OnRunCompleted(ctx context.Context, r *workflow.Run, elapsed time.Duration) error
}

// RunFailed is called when a run fails terminally.
type RunFailed interface {
	OnRunFailed(ctx context.Context, r *workflow.Run, err error) error
}

// RunCancelled is called when a run is cancelled.
type RunCancelled interface {
	OnRunCancelled(ctx context.Context, r *workflow.Run) error
}

// ──────────────────────────────────────────────────
// Step hooks
// ──────────────────────────────────────────────────

// StepScheduled is called when an invocation is first recorded.
type StepScheduled interface {
	OnStepScheduled(ctx context.Context, r *workflow.Run, inv *workflow.Invocation) error
}

// StepCompleted is called after an invocation succeeds.
type StepCompleted interface {
	OnStepCompleted(ctx context.Context, r *workflow.Run, inv *workflow.Invocation, elapsed time.Duration) error
}

// StepFailed is called when an invocation exhausts its attempts.
type StepFailed interface {
	OnStepFailed(ctx context.Context, r *workflow.Run, inv *workflow.Invocation, err error) error
}

// StepRetrying is called when an attempt failed and another follows
// after delay.
type StepRetrying interface {
	OnStepRetrying(ctx context.Context, r *workflow.Run, inv *workflow.Invocation, attempt int, delay time.Duration) error
}

// ──────────────────────────────────────────────────
// Activity attempt hooks
// ──────────────────────────────────────────────────

// ActivityStarted is called when a worker begins an attempt.
type ActivityStarted interface {
	OnActivityStarted(ctx context.Context, t *activity.Task) error
}

// ActivityCompleted is called after an attempt succeeds.
type ActivityCompleted interface {
	OnActivityCompleted(ctx context.Context, t *activity.Task, elapsed time.Duration) error
}

// ActivityFailed is called after an attempt fails, times out or is
// cancelled.
type ActivityFailed interface {
	OnActivityFailed(ctx context.Context, t *activity.Task, out *activity.Outcome) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
