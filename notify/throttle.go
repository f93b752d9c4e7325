package notify

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Throttle bounds the outbound rate of a provider. It waits for a token,
// bounded by ctx, rather than dropping messages.
type Throttle struct {
	next    Notifier
	limiter *rate.Limiter
}

// NewThrottle allows perSecond messages with the given burst.
func NewThrottle(next Notifier, perSecond float64, burst int) *Throttle {
	if burst < 1 {
		burst = 1
	}
	return &Throttle{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (t *Throttle) Send(ctx context.Context, msg Message) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notify: throttle: %w", err)
	}
	return t.next.Send(ctx, msg)
}
