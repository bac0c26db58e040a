package middleware_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/ragflow"
	mw "github.com/xraph/ragflow/middleware"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func findMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) *metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	t.Fatalf("metric %s not found", name)
	return nil
}

func TestMetrics_StatusAttribute(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))
	task := newTestTask()

	results := []error{
		nil,
		errors.New("boom"),
		ragflow.ErrActivityTimeout,
		ragflow.ErrActivityTimeout,
	}
	for _, res := range results {
		_ = m(context.Background(), task, func(context.Context) error { return res })
	}

	sum, ok := findMetric(t, reader, "ragflow.activity.attempts").Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("expected Sum[int64] data type")
	}
	counts := map[string]int64{}
	for _, dp := range sum.DataPoints {
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		counts[status.AsString()] = dp.Value
	}
	if counts["ok"] != 1 || counts["error"] != 1 || counts["timeout"] != 2 {
		t.Errorf("counts = %v, want ok=1 error=1 timeout=2", counts)
	}
}

func TestMetrics_RecordsDuration(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))

	_ = m(context.Background(), newTestTask(), func(context.Context) error {
		time.Sleep(time.Millisecond)
		return nil
	})

	hist, ok := findMetric(t, reader, "ragflow.activity.duration").Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("expected Histogram[float64] data type")
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("unexpected data points: %+v", hist.DataPoints)
	}
	if hist.DataPoints[0].Sum <= 0 {
		t.Errorf("expected positive duration, got %v", hist.DataPoints[0].Sum)
	}
}
