// Package prometheus exposes engine counters and the verification latency
// histogram to Prometheus.
//
// [PrometheusExporter] serves a private registry through promhttp and renders
// the text exposition format with expfmt. [Collector] plugs the same series
// into any client_golang registry. Counter names are mfa_*_total; the
// histogram is mfa_verify_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global registry on its own; callers register the Collector.
//   - Mutate engine state.
package prometheus
