// Package observability provides OpenTelemetry-based lifecycle metrics for
// ragflow. The MetricsExtension implements extension hooks to record
// system-wide counters for run starts, completions, failures and
// cancellations, step retries and step failures.
//
// For per-attempt tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
