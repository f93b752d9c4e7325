// Package limiters provides the attempt and send policies shared by the MFA
// factors.
//
// # Limiters
//
//   - [LockoutTracker]: pure Unlocked/Locked(until) state machine; state is persisted by the caller.
//   - [SendLimiter]: per-(channel, user) sliding window over internal/rate.
//   - [BackupCodeLimiter]: per-user fixed-window failure throttle for backup codes.
//
// Redis-backed limiters are nil-safe: calling any method on a nil receiver
// never refuses.
//
// # What this package must NOT do
//
//   - Import goMFA or any sibling internal package except internal/rate.
//   - Make policy decisions beyond counting; factor code decides consequences.
package limiters
