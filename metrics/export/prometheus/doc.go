// Package prometheus provides Prometheus collectors for identity core metrics.
//
// [NewPrometheusExporter] accepts an [authcore.Core] and exposes an [http.Handler]
// that renders all core counters and histograms in Prometheus text exposition
// format. Counter names are prefixed authcore_*_total; the single histogram is
// authcore_verify_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry — callers mount the Handler.
//   - Mutate core state.
package prometheus
