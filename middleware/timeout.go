package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/ragflow"
	"github.com/xraph/ragflow/activity"
)

// Timeout enforces the task's start-to-close timeout.
//
// The rest of the chain runs on its own goroutine, so an activity that
// ignores its context still yields ErrActivityTimeout once the deadline
// passes. Whatever it returns afterwards is dropped.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t *activity.Task, next Handler) error {
		if t.Timeout <= 0 {
			return next(ctx)
		}

		ctx, cancel := context.WithTimeout(ctx, t.Timeout)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- panicError(logger, t, r)
				}
			}()
			done <- next(ctx)
		}()

		select {
		case err := <-done:
			if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return timeoutError(t)
			}
			return err
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				logger.Warn("activity attempt timed out",
					slog.String("activity", t.Activity),
					slog.String("invocation_id", t.ID.String()),
					slog.Int("attempt", t.Attempt),
					slog.Duration("timeout", t.Timeout),
				)
				return timeoutError(t)
			}
			return ctx.Err()
		}
	}
}

func timeoutError(t *activity.Task) error {
	return fmt.Errorf("%w: %s exceeded %s", ragflow.ErrActivityTimeout, t.Activity, t.Timeout)
}
