// Package otel provides OpenTelemetry metric exporter bindings for identity
// core counters and histograms.
//
// [NewOTelExporter] registers Int64ObservableCounter instruments for each core
// metric and Int64ObservableGauge per histogram bucket. A single callback reads
// [authcore.Core.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider — callers supply the Meter.
//   - Mutate core state.
package otel
