// Package worker runs activity attempts. An Executor invokes one
// registered activity through middleware, and a Pool hosts the worker
// goroutines that serve each task queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/xraph/ragflow"
	"github.com/xraph/ragflow/activity"
	"github.com/xraph/ragflow/converter"
	"github.com/xraph/ragflow/ext"
	"github.com/xraph/ragflow/middleware"
)

// Executor runs a single activity attempt through the middleware chain and
// the registered handler, and classifies the result as an Outcome.
type Executor struct {
	registry   *activity.Registry
	converter  converter.DataConverter
	extensions *ext.Registry
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *activity.Registry,
	conv converter.DataConverter,
	extensions *ext.Registry,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if extensions == nil {
		extensions = ext.NewRegistry(logger)
	}
	return &Executor{
		registry:   registry,
		converter:  conv,
		extensions: extensions,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs one attempt of t. It never returns nil.
//
// An attempt that outlives t.Timeout is reported as timed out; one whose
// ctx ends first is reported as cancelled.
func (e *Executor) Execute(ctx context.Context, t *activity.Task) *activity.Outcome {
	def, ok := e.registry.Get(t.Activity)
	if !ok {
		err := activity.NonRetryable(fmt.Errorf("%w: %q", ragflow.ErrActivityNotFound, t.Activity))
		out := activity.Failed(t, err, 0)
		e.extensions.EmitActivityFailed(ctx, t, out)
		return out
	}

	e.extensions.EmitActivityStarted(ctx, t)
	start := time.Now()

	var result atomic.Pointer[converter.Payload]
	terminal := func(ctx context.Context) error {
		p, err := def.Handler()(ctx, e.converter, t.Input)
		if err != nil {
			return err
		}
		result.Store(p)
		return nil
	}

	err := e.mw(ctx, t, terminal)
	elapsed := time.Since(start)

	var out *activity.Outcome
	switch {
	case err == nil:
		out = activity.Succeeded(result.Load(), elapsed)
	case errors.Is(err, ragflow.ErrActivityTimeout):
		out = activity.TimedOut(t, err, elapsed)
	case ctx.Err() != nil:
		out = activity.Cancelled(t, context.Cause(ctx))
	default:
		out = activity.Failed(t, err, elapsed)
	}

	if out.Status == activity.StatusSucceeded {
		e.extensions.EmitActivityCompleted(ctx, t, elapsed)
	} else {
		e.logger.Debug("activity attempt did not succeed",
			slog.String("activity", t.Activity),
			slog.String("invocation_id", t.ID.String()),
			slog.Int("attempt", t.Attempt),
			slog.String("status", string(out.Status)),
			slog.String("error", out.Err.Message),
		)
		e.extensions.EmitActivityFailed(ctx, t, out)
	}
	return out
}
