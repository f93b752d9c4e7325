// Package otel binds engine counters and the verification latency histogram
// to OpenTelemetry observable instruments.
//
// [NewOTelExporter] registers an Int64ObservableCounter per counter and, per
// histogram, a bucket gauge labelled by "le" plus a count gauge. One callback reads
// [goMFA.Engine.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider; callers supply the Meter.
//   - Mutate engine state.
package otel
