package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/ragflow/activity"
)

// Recover converts a panic in the chain into an error and logs the stack.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t *activity.Task, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				retErr = panicError(logger, t, r)
			}
		}()
		return next(ctx)
	}
}

func panicError(logger *slog.Logger, t *activity.Task, r any) error {
	logger.Error("activity panicked",
		slog.String("activity", t.Activity),
		slog.String("invocation_id", t.ID.String()),
		slog.Any("panic", r),
		slog.String("stack", string(debug.Stack())),
	)
	return fmt.Errorf("panic in activity %s: %v", t.Activity, r)
}
