package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"treemap/call"
	"treemap/message"
)

// RateLimit refuses calls beyond r per second (with the given burst) with a
// rate-limited failure. Each chain built from it owns its own token bucket.
func RateLimit(r float64, burst int) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		limiter := rate.NewLimiter(rate.Limit(r), burst)
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return message.Fail(req.ID, string(call.KindRateLimited), "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
