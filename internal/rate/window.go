package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport and script failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

var slidingWindowLua = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local count = redis.call('ZCARD', KEYS[1])
local allowed = 0
if count < limit then
  redis.call('ZADD', KEYS[1], now, ARGV[4])
  redis.call('PEXPIRE', KEYS[1], window)
  count = count + 1
  allowed = 1
end
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local oldestScore = now
if oldest[2] then
  oldestScore = tonumber(oldest[2])
end
return {allowed, count, oldestScore}
`)

var peekWindowLua = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local count = redis.call('ZCARD', KEYS[1])
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local oldestScore = 0
if oldest[2] then
  oldestScore = tonumber(oldest[2])
end
return {count, oldestScore}
`)

// Decision is the outcome of one sliding-window admission.
type Decision struct {
	Allowed    bool
	Count      int
	Oldest     time.Time
	RetryAfter time.Duration
}

// SlidingWindow admits at most Limit events per key within Window.
type SlidingWindow struct {
	redis  redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

// NewSlidingWindow creates a window limiter. A nil client yields a limiter that
// admits everything.
func NewSlidingWindow(client redis.UniversalClient, prefix string, limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{redis: client, prefix: prefix, limit: limit, window: window}
}

func (w *SlidingWindow) key(id string) string {
	return w.prefix + id
}

// Allow records member at now when the window has room. RetryAfter is measured
// from the oldest event still inside the window.
func (w *SlidingWindow) Allow(ctx context.Context, id string, now time.Time, member string) (Decision, error) {
	if w == nil || w.redis == nil || w.limit <= 0 {
		return Decision{Allowed: true}, nil
	}
	res, err := slidingWindowLua.Run(ctx, w.redis,
		[]string{w.key(id)},
		now.UnixMilli(),
		w.window.Milliseconds(),
		w.limit,
		member,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply", ErrRedisUnavailable)
	}
	d := Decision{
		Allowed: res[0] == 1,
		Count:   int(res[1]),
		Oldest:  time.UnixMilli(res[2]),
	}
	if !d.Allowed {
		d.RetryAfter = d.Oldest.Add(w.window).Sub(now)
		if d.RetryAfter <= 0 {
			d.RetryAfter = time.Millisecond
		}
	}
	return d, nil
}

// Peek reports the number of events inside the window and when the next one
// would be admitted (zero when there is room).
func (w *SlidingWindow) Peek(ctx context.Context, id string, now time.Time) (int, time.Time, error) {
	if w == nil || w.redis == nil || w.limit <= 0 {
		return 0, time.Time{}, nil
	}
	res, err := peekWindowLua.Run(ctx, w.redis,
		[]string{w.key(id)},
		now.UnixMilli(),
		w.window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 2 {
		return 0, time.Time{}, fmt.Errorf("%w: unexpected script reply", ErrRedisUnavailable)
	}
	count := int(res[0])
	if count < w.limit || res[1] == 0 {
		return count, time.Time{}, nil
	}
	return count, time.UnixMilli(res[1]).Add(w.window), nil
}
