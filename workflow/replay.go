package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/ragflow"
	"github.com/xraph/ragflow/converter"
	"github.com/xraph/ragflow/id"
)

// ReplayResult is the outcome of re-executing a run against its history
// without dispatching any activity.
type ReplayResult struct {
	RunID     id.RunID           `json:"run_id"`
	State     RunState           `json:"state"`
	Decisions []Decision         `json:"decisions"`
	Output    *converter.Payload `json:"output,omitempty"`
	Error     string             `json:"error,omitempty"`

	// Matches is true when every decision matched the history and the
	// replayed result equals the recorded one.
	Matches bool `json:"matches"`
}

// History returns the replay log of a run, ordered by step.
func (r *Runner) History(ctx context.Context, runID id.RunID) ([]*Invocation, error) {
	if _, err := r.env.store.GetRun(ctx, runID); err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	invs, err := r.env.store.ListInvocations(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list history of run %s: %w", runID, err)
	}
	return invs, nil
}

// Replay re-executes the workflow function against the run's recorded
// history. Every step is served from the log; a step the log does not
// hold is reported as nondeterminism instead of being dispatched.
func (r *Runner) Replay(ctx context.Context, runID id.RunID) (*ReplayResult, error) {
	run, err := r.env.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	fn, ok := r.registry.Get(run.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %q (run %s)", ragflow.ErrWorkflowNotFound, run.Name, runID)
	}
	history, err := r.env.store.ListInvocations(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load history of run %s: %w", runID, err)
	}

	wf := newWorkflow(ctx, run, r.env, history, true)
	out, runErr := invoke(wf, fn, run.Input)
	if wf.fault != nil {
		runErr = wf.fault
	}

	res := &ReplayResult{
		RunID:     run.ID,
		State:     run.State,
		Decisions: wf.Decisions(),
		Output:    out,
	}
	if runErr != nil {
		res.Error = runErr.Error()
	}

	consumed := len(wf.decisions) == len(history)
	switch run.State {
	case RunStateCompleted:
		res.Matches = wf.fault == nil && runErr == nil && consumed && out.Equal(run.Output)
	case RunStateFailed:
		res.Matches = wf.fault == nil && runErr != nil && consumed && runErr.Error() == run.Error
	default:
		// Running and cancelled runs are a prefix of some execution.
		res.Matches = wf.fault == nil
	}
	return res, nil
}

// ReplayFrom truncates the run's history after step seq and re-executes
// the run, dispatching every later step again. Seq 0 restarts the run
// from scratch.
func (r *Runner) ReplayFrom(ctx context.Context, runID id.RunID, seq int) (*Run, error) {
	if seq < 0 {
		return nil, fmt.Errorf("%w: negative step %d", ragflow.ErrInvalidState, seq)
	}

	r.mu.Lock()
	_, executing := r.active[runID.String()]
	r.mu.Unlock()
	if executing {
		return nil, fmt.Errorf("%w: run %s is executing", ragflow.ErrInvalidState, runID)
	}

	run, err := r.env.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	fn, ok := r.registry.Get(run.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %q (run %s)", ragflow.ErrWorkflowNotFound, run.Name, runID)
	}

	if run.State == RunStateRunning {
		if run, err = r.env.store.AcquireRun(ctx, runID, r.owner, r.leaseTTL()); err != nil {
			return nil, fmt.Errorf("acquire run %s: %w", runID, err)
		}
	}

	if err := r.env.store.DeleteInvocationsAfter(ctx, runID, seq); err != nil {
		return nil, fmt.Errorf("truncate history of run %s: %w", runID, err)
	}

	run.State = RunStateRunning
	run.Output = nil
	run.Error = ""
	run.CompletedAt = nil
	run.StartedAt = time.Now().UTC()
	run.Owner = r.owner.String()
	run.LeaseExpiresAt = run.StartedAt.Add(r.leaseTTL())
	run.Touch()
	if err := r.env.store.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("reopen run %s: %w", runID, err)
	}

	r.env.emitter.EmitRunStarted(ctx, run)
	if err := r.executeRun(ctx, run, fn); err != nil {
		return nil, err
	}
	return run, nil
}
