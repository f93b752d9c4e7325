package goMFA

import (
	"context"
	"strings"
)

type requestKey int

const (
	clientIPKey requestKey = iota
	userAgentKey
)

// WithClientIP attaches the caller's IP address to ctx. The Engine records it
// as the origin of audit events and of used backup codes.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, strings.TrimSpace(ip))
}

// WithUserAgent attaches the request User-Agent to ctx for audit events.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentKey, userAgent)
}

func clientIPFromContext(ctx context.Context) string {
	return requestValue(ctx, clientIPKey)
}

func userAgentFromContext(ctx context.Context) string {
	return requestValue(ctx, userAgentKey)
}

func requestValue(ctx context.Context, key requestKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
