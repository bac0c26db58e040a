package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xraph/ragflow"
	"github.com/xraph/ragflow/backoff"
	"github.com/xraph/ragflow/converter"
	"github.com/xraph/ragflow/id"
)

// RunEmitter receives run and step lifecycle events. ext.Registry
// implements it.
type RunEmitter interface {
	EmitRunStarted(ctx context.Context, run *Run)
	EmitRunCompleted(ctx context.Context, run *Run, elapsed time.Duration)
	EmitRunFailed(ctx context.Context, run *Run, err error)
	EmitRunCancelled(ctx context.Context, run *Run)
	EmitStepScheduled(ctx context.Context, run *Run, inv *Invocation)
	EmitStepCompleted(ctx context.Context, run *Run, inv *Invocation, elapsed time.Duration)
	EmitStepFailed(ctx context.Context, run *Run, inv *Invocation, err error)
	EmitStepRetrying(ctx context.Context, run *Run, inv *Invocation, attempt int, delay time.Duration)
}

type nopEmitter struct{}

func (nopEmitter) EmitRunStarted(context.Context, *Run) {}
func (nopEmitter) EmitRunCompleted(context.Context, *Run, time.Duration) {}
func (nopEmitter) EmitRunFailed(context.Context, *Run, error) {}
func (nopEmitter) EmitRunCancelled(context.Context, *Run) {}
func (nopEmitter) EmitStepScheduled(context.Context, *Run, *Invocation) {}
func (nopEmitter) EmitStepCompleted(context.Context, *Run, *Invocation, time.Duration) {}
func (nopEmitter) EmitStepFailed(context.Context, *Run, *Invocation, error) {}
func (nopEmitter) EmitStepRetrying(context.Context, *Run, *Invocation, int, time.Duration) {}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithConfig sets the orchestrator configuration used for run keys, step
// timeouts and retry defaults.
func WithConfig(cfg ragflow.Config) RunnerOption {
	return func(r *Runner) { r.env.config = cfg }
}

// WithConverter sets the payload converter. The default is converter.New().
func WithConverter(c converter.DataConverter) RunnerOption {
	return func(r *Runner) { r.env.converter = c }
}

// WithCatalog exposes declared activity options to the coordinator.
func WithCatalog(c ActivityCatalog) RunnerOption {
	return func(r *Runner) { r.env.catalog = c }
}

// WithBackoff overrides the retry strategy built from the configuration.
func WithBackoff(s backoff.Strategy) RunnerOption {
	return func(r *Runner) { r.env.backoff = s }
}

// WithOwner sets the worker ID the runner leases runs under. The default
// is a fresh ID per runner.
func WithOwner(w id.WorkerID) RunnerOption {
	return func(r *Runner) { r.owner = w }
}

// Runner owns run lifecycles: it deduplicates submissions by run key,
// executes workflow functions against their replay log, and cancels,
// resumes and replays runs.
type Runner struct {
	registry *Registry
	env      *environment
	group    singleflight.Group
	owner    id.WorkerID

	mu      sync.Mutex
	active  map[string]*activeRun
	stopped bool
	wg      sync.WaitGroup

	base context.Context
	stop context.CancelCauseFunc
}

type activeRun struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// NewRunner creates a workflow runner.
func NewRunner(
	registry *Registry,
	store Store,
	dispatcher Dispatcher,
	emitter RunEmitter,
	logger *slog.Logger,
	opts ...RunnerOption,
) *Runner {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	base, stop := context.WithCancelCause(context.Background())
	r := &Runner{
		registry: registry,
		env: &environment{
			store:      store,
			dispatcher: dispatcher,
			emitter:    emitter,
			logger:     logger,
			config:     ragflow.DefaultConfig(),
		},
		active: make(map[string]*activeRun),
		owner:  id.NewWorkerID(),
		base:   base,
		stop:   stop,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.env.converter == nil {
		r.env.converter = converter.New()
	}
	if r.env.backoff == nil {
		cfg := r.env.config
		s, err := backoff.New(cfg.RetryBackoff, cfg.RetryInitialInterval, cfg.RetryMaxInterval)
		if err != nil {
			logger.Warn("invalid retry backoff, using default",
				slog.String("backoff", cfg.RetryBackoff),
				slog.String("error", err.Error()),
			)
			s = backoff.DefaultStrategy()
		}
		r.env.backoff = s
	}
	return r
}

// Registry returns the workflow registry.
func (r *Runner) Registry() *Registry { return r.registry }

// Converter returns the payload converter runs encode through.
func (r *Runner) Converter() converter.DataConverter { return r.env.converter }

// Store returns the run store.
func (r *Runner) Store() Store { return r.env.store }

// Owner returns the worker ID runs executed here are leased under.
func (r *Runner) Owner() id.WorkerID { return r.owner }

func (r *Runner) leaseTTL() time.Duration {
	if ttl := r.env.config.RunLease; ttl > 0 {
		return ttl
	}
	return defaultRunLease
}

func (r *Runner) isActive(runID id.RunID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[runID.String()]
	return ok
}

// Execute starts the named workflow under key, or attaches to the run
// already active under key, and blocks until that run is terminal.
//
// Concurrent calls with the same key share one run. The returned error
// reports orchestration faults only; a failed or cancelled run is returned
// with a nil error and its state set.
func (r *Runner) Execute(ctx context.Context, name, key string, input any) (*Run, error) {
	payload, err := r.env.converter.ToPayload(input)
	if err != nil {
		return nil, fmt.Errorf("encode input for workflow %q: %w", name, err)
	}

	// The shared run must outlive any one caller.
	detached := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key, func() (any, error) {
		return r.startOrAttach(detached, name, key, payload)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		run := *res.Val.(*Run)
		return &run, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Runner) startOrAttach(ctx context.Context, name, key string, input *converter.Payload) (*Run, error) {
	fn, ok := r.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ragflow.ErrWorkflowNotFound, name)
	}
	if r.base.Err() != nil {
		return nil, ErrStopped
	}

	for {
		existing, err := r.env.store.GetActiveRun(ctx, key)
		switch {
		case err == nil:
			return r.await(ctx, existing.ID)
		case !errors.Is(err, ragflow.ErrRunNotFound):
			return nil, fmt.Errorf("look up active run for %q: %w", key, err)
		}

		now := time.Now().UTC()
		run := &Run{
			Entity:    ragflow.NewEntity(),
			ID:        id.NewRunID(),
			Key:       key,
			Name:      name,
			TaskQueue: r.env.config.TaskQueue,
			State:     RunStateRunning,
			Input:     input,
			StartedAt: now,

			Owner:          r.owner.String(),
			LeaseExpiresAt: now.Add(r.leaseTTL()),
		}
		err = r.env.store.CreateRun(ctx, run)
		if errors.Is(err, ragflow.ErrRunAlreadyExists) {
			// Another process won the key between lookup and create.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create run for workflow %q: %w", name, err)
		}

		r.logger().Info("run started",
			slog.String("run_id", run.ID.String()),
			slog.String("workflow", name),
			slog.String("key", key),
		)
		r.env.emitter.EmitRunStarted(ctx, run)

		if err := r.executeRun(ctx, run, fn); err != nil {
			return nil, err
		}
		if !run.State.Terminal() && r.base.Err() == nil {
			// The lease went to another process; wait for its outcome.
			return r.await(ctx, run.ID)
		}
		return run, nil
	}
}

// await blocks until the run is terminal. Runs executing in this process
// are awaited directly; others are polled from the store. A polled run
// whose lease expired is taken over and executed here.
func (r *Runner) await(ctx context.Context, runID id.RunID) (*Run, error) {
	r.mu.Lock()
	ar := r.active[runID.String()]
	r.mu.Unlock()

	if ar != nil {
		select {
		case <-ar.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.base.Done():
			return nil, context.Cause(r.base)
		}
	}

	interval := r.env.config.PollInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		run, err := r.env.store.GetRun(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("get run %s: %w", runID, err)
		}
		if run.State.Terminal() {
			return run, nil
		}
		if !run.Leased(time.Now()) && !r.isActive(runID) && r.takeOver(ctx, run) {
			continue
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.base.Done():
			return nil, context.Cause(r.base)
		}
	}
}

// takeOver acquires a run whose owner stopped renewing its lease and
// executes it. It reports false when the run could not be acquired, for
// instance because another process won the race; the caller keeps polling.
func (r *Runner) takeOver(ctx context.Context, run *Run) bool {
	fn, ok := r.registry.Get(run.Name)
	if !ok {
		return false
	}
	acquired, err := r.env.store.AcquireRun(ctx, run.ID, r.owner, r.leaseTTL())
	if err != nil {
		return false
	}
	r.logger().Info("taking over run with expired lease",
		slog.String("run_id", run.ID.String()),
		slog.String("previous_owner", run.Owner),
	)
	if err := r.executeRun(ctx, acquired, fn); err != nil {
		r.logger().Warn("failed to take over run",
			slog.String("run_id", run.ID.String()),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// executeRun runs the workflow function to a terminal state, or until the
// runner stops. It returns an error only when the run cannot start.
func (r *Runner) executeRun(ctx context.Context, run *Run, fn RunnerFunc) error {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	unwatch := context.AfterFunc(r.base, func() { cancel(context.Cause(r.base)) })
	defer unwatch()

	ar := &activeRun{cancel: cancel, done: make(chan struct{})}
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrStopped
	}
	if _, dup := r.active[run.ID.String()]; dup {
		r.mu.Unlock()
		return fmt.Errorf("%w: run %s is already executing", ragflow.ErrInvalidState, run.ID)
	}
	r.active[run.ID.String()] = ar
	r.wg.Add(1)
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.active, run.ID.String())
		r.mu.Unlock()
		close(ar.done)
		r.wg.Done()
	}()

	history, err := r.env.store.ListInvocations(runCtx, run.ID)
	if err != nil {
		return fmt.Errorf("load history of run %s: %w", run.ID, err)
	}

	lease := &runLease{
		store:  r.env.store,
		runID:  run.ID,
		owner:  r.owner,
		ttl:    r.leaseTTL(),
		cancel: cancel,
		logger: r.logger().With(slog.String("run_id", run.ID.String())),
	}
	hbCtx, stopHeartbeat := context.WithCancel(runCtx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		lease.heartbeat(hbCtx)
	}()

	start := time.Now()
	wf := newWorkflow(runCtx, run, r.env, history, false)
	wf.beforeSchedule = func() { lease.renew(runCtx) }
	out, err := invoke(wf, fn, run.Input)
	if wf.fault != nil {
		err = wf.fault
	}
	elapsed := time.Since(start)
	stopHeartbeat()
	<-hbDone

	cause := context.Cause(runCtx)
	persist := context.WithoutCancel(ctx)
	logger := wf.Logger()

	switch {
	case errors.Is(cause, ragflow.ErrLeaseLost):
		logger.Warn("run lease acquired by another owner, abandoning execution")
		return nil
	case err != nil && errors.Is(cause, ErrStopped):
		lease.release(persist)
		logger.Info("run suspended by shutdown")
		return nil
	}

	now := time.Now().UTC()
	run.CompletedAt = &now
	run.Touch()

	switch {
	case err == nil:
		run.State = RunStateCompleted
		run.Output = out
	case errors.Is(cause, ragflow.ErrCancelled):
		run.State = RunStateCancelled
		run.Error = cause.Error()
	default:
		run.State = RunStateFailed
		run.Error = err.Error()
	}

	if updateErr := r.env.store.UpdateRun(persist, run); updateErr != nil {
		if errors.Is(updateErr, ragflow.ErrInvalidState) {
			// Made terminal elsewhere, typically by a Cancel from
			// another process. The stored outcome stands.
			if stored, getErr := r.env.store.GetRun(persist, run.ID); getErr == nil {
				*run = *stored
			}
			logger.Info("run already terminal", slog.String("state", string(run.State)))
			return nil
		}
		logger.Error("failed to update run",
			slog.String("state", string(run.State)),
			slog.String("error", updateErr.Error()),
		)
	}

	switch run.State {
	case RunStateCompleted:
		logger.Info("run completed", slog.Duration("elapsed", elapsed))
		r.env.emitter.EmitRunCompleted(persist, run, elapsed)
	case RunStateCancelled:
		logger.Info("run cancelled")
		r.env.emitter.EmitRunCancelled(persist, run)
	default:
		logger.Warn("run failed", slog.String("error", run.Error))
		r.env.emitter.EmitRunFailed(persist, run, err)
	}
	return nil
}

// invoke calls the workflow function, converting a panic into an error.
func invoke(wf *Workflow, fn RunnerFunc, input *converter.Payload) (out *converter.Payload, err error) {
	defer func() {
		if rv := recover(); rv != nil {
			err = fmt.Errorf("workflow %s panicked: %v", wf.run.Name, rv)
		}
	}()
	return fn(wf, input)
}

// Cancel cancels a running run. An in-flight attempt is abandoned and any
// result it produces later is discarded. A run executing in another
// process is marked cancelled in the store; its owner observes this before
// scheduling the next step or at its next lease renewal.
func (r *Runner) Cancel(ctx context.Context, runID id.RunID) error {
	r.mu.Lock()
	ar := r.active[runID.String()]
	r.mu.Unlock()

	if ar != nil {
		ar.cancel(ragflow.ErrCancelled)
		select {
		case <-ar.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	run, err := r.env.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("get run %s: %w", runID, err)
	}
	if run.State.Terminal() {
		return fmt.Errorf("%w: run %s is %s", ragflow.ErrInvalidState, runID, run.State)
	}

	now := time.Now().UTC()
	run.State = RunStateCancelled
	run.Error = ragflow.ErrCancelled.Error()
	run.CompletedAt = &now
	run.Touch()
	if err := r.env.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("update run %s: %w", runID, err)
	}
	r.env.emitter.EmitRunCancelled(ctx, run)
	return nil
}

// Resume re-executes a running run against its history. Recorded steps
// are not dispatched again. It returns ragflow.ErrRunLeased while another
// live process owns the run.
func (r *Runner) Resume(ctx context.Context, runID id.RunID) error {
	run, err := r.env.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("get run %s: %w", runID, err)
	}
	if run.State != RunStateRunning {
		return fmt.Errorf("%w: run %s is %s, not running", ragflow.ErrInvalidState, runID, run.State)
	}
	fn, ok := r.registry.Get(run.Name)
	if !ok {
		return fmt.Errorf("%w: %q (run %s)", ragflow.ErrWorkflowNotFound, run.Name, runID)
	}
	run, err = r.env.store.AcquireRun(ctx, runID, r.owner, r.leaseTTL())
	if err != nil {
		return fmt.Errorf("acquire run %s: %w", runID, err)
	}
	return r.executeRun(ctx, run, fn)
}

// ResumeAll takes over every running run whose lease has expired and
// executes them in the background. Runs held by a live owner are left
// alone. It is called at startup for crash recovery and returns the
// number of runs taken over.
func (r *Runner) ResumeAll(ctx context.Context) (int, error) {
	runs, err := r.env.store.ListRuns(ctx, ListOpts{State: RunStateRunning})
	if err != nil {
		return 0, fmt.Errorf("list running runs: %w", err)
	}

	detached := context.WithoutCancel(ctx)
	resumed := 0
	for _, run := range runs {
		if r.isActive(run.ID) {
			continue
		}
		fn, ok := r.registry.Get(run.Name)
		if !ok {
			r.logger().Warn("cannot resume run of unknown workflow",
				slog.String("run_id", run.ID.String()),
				slog.String("workflow", run.Name),
			)
			continue
		}
		acquired, err := r.env.store.AcquireRun(ctx, run.ID, r.owner, r.leaseTTL())
		switch {
		case errors.Is(err, ragflow.ErrRunLeased), errors.Is(err, ragflow.ErrInvalidState):
			r.logger().Debug("run not resumable",
				slog.String("run_id", run.ID.String()),
				slog.String("reason", err.Error()),
			)
			continue
		case err != nil:
			r.logger().Error("failed to acquire run",
				slog.String("run_id", run.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}

		r.logger().Info("resuming run",
			slog.String("run_id", run.ID.String()),
			slog.String("workflow", run.Name),
		)
		resumed++
		go func() {
			if err := r.executeRun(detached, acquired, fn); err != nil {
				r.logger().Error("failed to resume run",
					slog.String("run_id", acquired.ID.String()),
					slog.String("error", err.Error()),
				)
			}
		}()
	}
	return resumed, nil
}

// Stop interrupts every executing run and waits for them to return. The
// interrupted runs stay running in the store.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	r.stop(ErrStopped)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) logger() *slog.Logger { return r.env.logger }
