package limiters

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLockoutTrackerLocksAtThreshold(t *testing.T) {
	tr := LockoutTracker{Threshold: 5, Duration: 30 * time.Minute}
	now := time.Unix(1_700_000_000, 0)
	var s LockoutState

	for i := 1; i < 5; i++ {
		var locked bool
		s, locked = tr.Fail(s, now)
		require.False(t, locked, "failure %d", i)
		require.Equal(t, 5-i, tr.Remaining(s))
	}
	s, locked := tr.Fail(s, now)
	require.True(t, locked)
	require.NotNil(t, s.LockedUntil)
	require.Equal(t, now.Add(30*time.Minute), *s.LockedUntil)

	isLocked, _, cleared := tr.Locked(s, now.Add(29*time.Minute))
	require.True(t, isLocked)
	require.False(t, cleared)
}

func TestLockoutTrackerClearsLazily(t *testing.T) {
	tr := LockoutTracker{Threshold: 5, Duration: 30 * time.Minute}
	until := time.Unix(1_700_001_800, 0)
	s := LockoutState{FailedAttempts: 5, LockedUntil: &until}

	locked, next, cleared := tr.Locked(s, until)
	require.False(t, locked)
	require.True(t, cleared)
	require.Equal(t, LockoutState{}, next)

	locked, next, cleared = tr.Locked(LockoutState{FailedAttempts: 2}, until)
	require.False(t, locked)
	require.False(t, cleared)
	require.Equal(t, 2, next.FailedAttempts)
}

func TestLockoutTrackerWithoutDurationOnlyExhausts(t *testing.T) {
	tr := LockoutTracker{Threshold: 3}
	now := time.Now()
	var s LockoutState
	for i := 0; i < 3; i++ {
		var locked bool
		s, locked = tr.Fail(s, now)
		require.False(t, locked)
	}
	require.True(t, tr.Exhausted(s))
	require.Nil(t, s.LockedUntil)
	require.Equal(t, 0, tr.Remaining(s))
}
