// Package rate provides the Redis primitive behind per-user send limits.
//
// # Window semantics
//
// Sliding-log windows: every accepted event is a sorted-set member scored by
// its unix-millisecond timestamp. Members at or before now-window are trimmed
// before counting, so the window start is the oldest qualifying event rather
// than a fixed bucket boundary. Trim, count and insert run in one Lua script.
//
// Key prefixes:
//   - mfs: one-time-code sends per (channel, user)
//
// # What this package must NOT do
//
//   - Implement domain-specific policies (those live in internal/limiters).
//   - Be imported outside the goMFA module.
package rate
