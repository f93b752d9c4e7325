package rate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newWindow(t *testing.T, limit int, window time.Duration) *SlidingWindow {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewSlidingWindow(rdb, "test:", limit, window)
}

func TestSlidingWindowAdmitsUpToLimit(t *testing.T) {
	w := newWindow(t, 5, time.Hour)
	ctx := context.Background()
	start := time.Unix(1_700_000_000, 0)

	for i := 0; i < 5; i++ {
		d, err := w.Allow(ctx, "u1", start.Add(time.Duration(i)*time.Minute), fmt.Sprintf("m%d", i))
		require.NoError(t, err)
		require.True(t, d.Allowed, "send %d", i+1)
		require.Equal(t, i+1, d.Count)
	}

	now := start.Add(10 * time.Minute)
	d, err := w.Allow(ctx, "u1", now, "m5")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, start, d.Oldest)
	require.Equal(t, 50*time.Minute, d.RetryAfter)

	count, next, err := w.Peek(ctx, "u1", now)
	require.NoError(t, err)
	require.Equal(t, 5, count)
	require.Equal(t, start.Add(time.Hour), next)
}

func TestSlidingWindowSlidesFromOldestEvent(t *testing.T) {
	w := newWindow(t, 2, time.Hour)
	ctx := context.Background()
	start := time.Unix(1_700_000_000, 0)

	_, err := w.Allow(ctx, "u1", start, "a")
	require.NoError(t, err)
	_, err = w.Allow(ctx, "u1", start.Add(30*time.Minute), "b")
	require.NoError(t, err)

	d, err := w.Allow(ctx, "u1", start.Add(59*time.Minute), "c")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	// The first event leaves the window; the second still counts.
	d, err = w.Allow(ctx, "u1", start.Add(time.Hour), "d")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, 2, d.Count)

	d, err = w.Allow(ctx, "u1", start.Add(61*time.Minute), "e")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, 29*time.Minute, d.RetryAfter)
}

func TestSlidingWindowKeysAreIndependent(t *testing.T) {
	w := newWindow(t, 1, time.Hour)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	d, err := w.Allow(ctx, "a", now, "x")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	d, err = w.Allow(ctx, "b", now, "y")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = w.Allow(ctx, "a", now, "z")
	require.NoError(t, err)
	require.False(t, d.Allowed)
}

func TestNilSlidingWindowAdmits(t *testing.T) {
	var w *SlidingWindow
	d, err := w.Allow(context.Background(), "u", time.Now(), "m")
	require.NoError(t, err)
	require.True(t, d.Allowed)
}
