package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"jmtp/message"
)

// RateLimitMiddleware admits queries through a token bucket of r tokens per
// second and the given burst, rejecting the rest with wait/resource-constraint.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, q *message.Frame) (any, error) {
			if !limiter.Allow() {
				return nil, message.NewError(message.ErrorWait, message.GroupResourceConstraint, "rate limit exceeded")
			}
			return next(ctx, q)
		}
	}
}
