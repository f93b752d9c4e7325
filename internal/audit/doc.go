// Package audit implements event sinks and async dispatching for MFA factor outcomes.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, zap, store, fan-out, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full semantics.
//   - [Event]: structured audit record with timestamp, event, factor, user, origin, detail.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which events
// to emit; that belongs to the Engine's factor operations.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import goMFA or any sibling internal package.
//   - Perform I/O beyond what a caller-supplied Sink or store does.
package audit
