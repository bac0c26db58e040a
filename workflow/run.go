package workflow

import (
	"time"

	"github.com/xraph/ragflow"
	"github.com/xraph/ragflow/activity"
	"github.com/xraph/ragflow/converter"
	"github.com/xraph/ragflow/id"
)

// RunState represents the lifecycle state of a workflow run.
type RunState string

const (
	// RunStateRunning means the run has started and is not terminal.
	RunStateRunning RunState = "running"
	// RunStateCompleted means the workflow function returned a result.
	RunStateCompleted RunState = "completed"
	// RunStateFailed means the workflow function returned an error.
	RunStateFailed RunState = "failed"
	// RunStateCancelled means the run was cancelled before completing.
	RunStateCancelled RunState = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s RunState) Terminal() bool { return s != RunStateRunning }

// Run is one execution of a workflow, identified by its run key.
type Run struct {
	ragflow.Entity

	ID          id.RunID           `json:"id"`
	Key         string             `json:"key"`
	Name        string             `json:"name"`
	TaskQueue   string             `json:"task_queue"`
	State       RunState           `json:"state"`
	Input       *converter.Payload `json:"input,omitempty"`
	Output      *converter.Payload `json:"output,omitempty"`
	Error       string             `json:"error,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`

	// Owner is the worker ID of the process executing the run. It holds
	// the run until LeaseExpiresAt unless it renews.
	Owner          string    `json:"owner,omitempty"`
	LeaseExpiresAt time.Time `json:"lease_expires_at,omitzero"`
}

// Leased reports whether an owner holds the run at now.
func (r *Run) Leased(now time.Time) bool {
	return r.Owner != "" && r.LeaseExpiresAt.After(now)
}

// InvocationState is the state of one scheduled activity.
type InvocationState string

const (
	InvocationScheduled InvocationState = "scheduled"
	InvocationSucceeded InvocationState = "succeeded"
	InvocationFailed    InvocationState = "failed"
	InvocationTimedOut  InvocationState = "timed_out"
	InvocationCancelled InvocationState = "cancelled"
)

// Terminal reports whether an outcome has been recorded.
func (s InvocationState) Terminal() bool { return s != InvocationScheduled }

// Invocation is one entry of a run's replay log. It is written when the
// step is scheduled and rewritten once with its outcome.
type Invocation struct {
	ID          id.InvocationID      `json:"id"`
	RunID       id.RunID             `json:"run_id"`
	Seq         int                  `json:"seq"`
	Activity    string               `json:"activity"`
	Input       []*converter.Payload `json:"input"`
	Timeout     time.Duration        `json:"timeout"`
	Attempts    int                  `json:"attempts"`
	State       InvocationState      `json:"state"`
	Result      *converter.Payload   `json:"result,omitempty"`
	Error       string               `json:"error,omitempty"`
	ErrorKind   activity.ErrorKind   `json:"error_kind,omitempty"`
	ScheduledAt time.Time            `json:"scheduled_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
}

// Err rebuilds the activity error of a failed, timed-out or cancelled
// invocation. It returns nil for scheduled or succeeded ones.
func (inv *Invocation) Err() error {
	switch inv.State {
	case InvocationScheduled, InvocationSucceeded:
		return nil
	}
	return &activity.Error{
		Activity: inv.Activity,
		Kind:     inv.ErrorKind,
		Message:  inv.Error,
		Attempts: inv.Attempts,
	}
}

// Decision is what a workflow function asked for at one step.
type Decision struct {
	Seq      int                  `json:"seq"`
	Activity string               `json:"activity"`
	Input    []*converter.Payload `json:"input"`
}

// ListOpts filters and paginates ListRuns.
type ListOpts struct {
	// State filters by run state. Empty returns every state.
	State RunState

	// Limit caps the number of runs returned. Zero means no cap.
	Limit int

	// Offset skips runs, ordered oldest first.
	Offset int
}
