package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goMFA/internal/rate"
	"github.com/redis/go-redis/v9"
)

var (
	ErrSendRateLimited = errors.New("send rate limited")
	ErrSendUnavailable = errors.New("send limiter unavailable")
)

// SendConfig describes one channel's send budget.
type SendConfig struct {
	Limit  int
	Window time.Duration
}

// SendLimiter caps one-time-code sends per (channel, user) over a sliding window.
type SendLimiter struct {
	window *rate.SlidingWindow
}

// NewSendLimiter returns a limiter for channel. A nil client or a non-positive
// limit yields a limiter that never refuses.
func NewSendLimiter(redisClient redis.UniversalClient, channel string, cfg SendConfig) *SendLimiter {
	if redisClient == nil || cfg.Limit <= 0 {
		return nil
	}
	return &SendLimiter{
		window: rate.NewSlidingWindow(redisClient, "mfs:"+channel+":", cfg.Limit, cfg.Window),
	}
}

// Reserve records a send identified by sendID. When the window is full it
// returns ErrSendRateLimited together with the wait until the oldest send leaves.
func (l *SendLimiter) Reserve(ctx context.Context, userID, sendID string, now time.Time) (time.Duration, error) {
	if l == nil {
		return 0, nil
	}
	d, err := l.window.Allow(ctx, userID, now, sendID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSendUnavailable, err)
	}
	if !d.Allowed {
		return d.RetryAfter, ErrSendRateLimited
	}
	return 0, nil
}

// NextAllowed returns the instant the next send would be admitted, or zero.
func (l *SendLimiter) NextAllowed(ctx context.Context, userID string, now time.Time) (time.Time, error) {
	if l == nil {
		return time.Time{}, nil
	}
	_, next, err := l.window.Peek(ctx, userID, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrSendUnavailable, err)
	}
	return next, nil
}
