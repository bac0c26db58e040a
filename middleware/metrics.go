package middleware

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/ragflow"
	"github.com/xraph/ragflow/activity"
)

// meterName is the instrumentation scope name for ragflow metrics.
const meterName = "github.com/xraph/ragflow"

// Metrics records per-attempt metrics on the global MeterProvider.
//
// Instruments:
//   - ragflow.activity.duration (Float64Histogram, seconds)
//   - ragflow.activity.attempts (Int64Counter)
//
// Both carry activity, queue and status ("ok", "error" or "timeout").
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter is Metrics with an injected meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Instrument errors still return usable noop instruments.
	duration, _ := meter.Float64Histogram(
		"ragflow.activity.duration",
		metric.WithDescription("Duration of activity attempts in seconds"),
		metric.WithUnit("s"),
	)
	attempts, _ := meter.Int64Counter(
		"ragflow.activity.attempts",
		metric.WithDescription("Total number of activity attempts"),
		metric.WithUnit("{attempt}"),
	)

	return func(ctx context.Context, t *activity.Task, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		switch {
		case errors.Is(err, ragflow.ErrActivityTimeout):
			status = "timeout"
		case err != nil:
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("activity", t.Activity),
			attribute.String("queue", t.Queue),
			attribute.String("status", status),
		)
		duration.Record(ctx, elapsed, attrs)
		attempts.Add(ctx, 1, attrs)
		return err
	}
}
