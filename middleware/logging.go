package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/ragflow/activity"
)

// Logging logs the start and end of every attempt.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t *activity.Task, next Handler) error {
		logger.Info("activity started",
			slog.String("activity", t.Activity),
			slog.String("run_id", t.RunID.String()),
			slog.Int("seq", t.Seq),
			slog.Int("attempt", t.Attempt),
			slog.String("queue", t.Queue),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("activity failed",
				slog.String("activity", t.Activity),
				slog.String("run_id", t.RunID.String()),
				slog.Int("attempt", t.Attempt),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
			return err
		}

		logger.Info("activity completed",
			slog.String("activity", t.Activity),
			slog.String("run_id", t.RunID.String()),
			slog.Int("attempt", t.Attempt),
			slog.Duration("elapsed", elapsed),
		)
		return nil
	}
}
