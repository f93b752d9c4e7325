package limiters

import "time"

// LockoutState is the persisted part of an attempt-limited factor.
type LockoutState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// LockoutTracker implements Unlocked -> Locked(until) -> Unlocked.
//
// The tracker holds no state of its own; callers load a LockoutState from the
// store, run a transition and persist the result. A zero Duration means the
// factor never locks and Exhausted is the only gate (one-time codes).
type LockoutTracker struct {
	Threshold int
	Duration  time.Duration
}

// Locked reports whether s is locked at now. An expired lock is cleared
// lazily: the returned state has no lock and a reset failure counter, and
// cleared is true so the caller knows to persist it.
func (t LockoutTracker) Locked(s LockoutState, now time.Time) (locked bool, next LockoutState, cleared bool) {
	if s.LockedUntil == nil {
		return false, s, false
	}
	if now.Before(*s.LockedUntil) {
		return true, s, false
	}
	return false, LockoutState{}, true
}

// Fail records one failure. When the threshold is reached and Duration is
// positive, the returned state carries LockedUntil = now + Duration.
func (t LockoutTracker) Fail(s LockoutState, now time.Time) (next LockoutState, locked bool) {
	s.FailedAttempts++
	if t.Threshold > 0 && t.Duration > 0 && s.FailedAttempts >= t.Threshold {
		until := now.Add(t.Duration)
		s.LockedUntil = &until
		return s, true
	}
	return s, false
}

// Exhausted reports whether the failure budget is spent.
func (t LockoutTracker) Exhausted(s LockoutState) bool {
	return t.Threshold > 0 && s.FailedAttempts >= t.Threshold
}

// Remaining returns the number of failures left before the threshold.
func (t LockoutTracker) Remaining(s LockoutState) int {
	if t.Threshold <= 0 {
		return -1
	}
	r := t.Threshold - s.FailedAttempts
	if r < 0 {
		return 0
	}
	return r
}
