package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/ragflow/ext"
	"github.com/xraph/ragflow/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.RunStarted   = (*MetricsExtension)(nil)
	_ ext.RunCompleted = (*MetricsExtension)(nil)
	_ ext.RunFailed    = (*MetricsExtension)(nil)
	_ ext.RunCancelled = (*MetricsExtension)(nil)
	_ ext.StepRetrying = (*MetricsExtension)(nil)
	_ ext.StepFailed   = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/ragflow/observability"

// MetricsExtension records system-wide lifecycle metrics through an
// OpenTelemetry meter.
//
// Run instruments carry a "workflow" attribute; step instruments carry
// "activity".
type MetricsExtension struct {
	RunStarted   metric.Int64Counter
	RunCompleted metric.Int64Counter
	RunFailed    metric.Int64Counter
	RunCancelled metric.Int64Counter
	RunDuration  metric.Float64Histogram
	StepRetried  metric.Int64Counter
	StepFailed   metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. Instrument errors yield noop instruments.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	duration, _ := meter.Float64Histogram("ragflow.run.duration",
		metric.WithDescription("Duration of completed runs in seconds"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		RunStarted:   counter("ragflow.run.started", "Runs created"),
		RunCompleted: counter("ragflow.run.completed", "Runs that returned a result"),
		RunFailed:    counter("ragflow.run.failed", "Runs that failed"),
		RunCancelled: counter("ragflow.run.cancelled", "Runs that were cancelled"),
		RunDuration:  duration,
		StepRetried:  counter("ragflow.step.retried", "Activity attempts followed by a retry"),
		StepFailed:   counter("ragflow.step.failed", "Activity invocations that exhausted their attempts"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func workflowAttr(r *workflow.Run) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("workflow", r.Name))
}

// ── Run lifecycle hooks ─────────────────────────────

// OnRunStarted implements ext.RunStarted.
func (m *MetricsExtension) OnRunStarted(ctx context.Context, r *workflow.Run) error {
	m.RunStarted.Add(ctx, 1, workflowAttr(r))
	return nil
}

// OnRunCompleted implements ext.RunCompleted.
func (m *MetricsExtension) OnRunCompleted(ctx context.Context, r *workflow.Run, elapsed time.Duration) error {
	m.RunCompleted.Add(ctx, 1, workflowAttr(r))
	m.RunDuration.Record(ctx, elapsed.Seconds(), workflowAttr(r))
	return nil
}

// OnRunFailed implements ext.RunFailed.
func (m *MetricsExtension) OnRunFailed(ctx context.Context, r *workflow.Run, _ error) error {
	m.RunFailed.Add(ctx, 1, workflowAttr(r))
	return nil
}

// OnRunCancelled implements ext.RunCancelled.
func (m *MetricsExtension) OnRunCancelled(ctx context.Context, r *workflow.Run) error {
	m.RunCancelled.Add(ctx, 1, workflowAttr(r))
	return nil
}

// ── Step hooks ──────────────────────────────────────

// OnStepRetrying implements ext.StepRetrying.
func (m *MetricsExtension) OnStepRetrying(ctx context.Context, _ *workflow.Run, inv *workflow.Invocation, _ int, _ time.Duration) error {
	m.StepRetried.Add(ctx, 1, metric.WithAttributes(attribute.String("activity", inv.Activity)))
	return nil
}

// OnStepFailed implements ext.StepFailed.
func (m *MetricsExtension) OnStepFailed(ctx context.Context, _ *workflow.Run, inv *workflow.Invocation, _ error) error {
	m.StepFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("activity", inv.Activity),
		attribute.String("kind", string(inv.ErrorKind)),
	))
	return nil
}
