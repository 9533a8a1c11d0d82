package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"dispatch-rpc/message"
)

// RateLimitMiddleware rejects calls beyond r per second (token bucket with the
// given burst) with a CodeRateLimited fault. The handler is not invoked.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (message.Response, error) {
			if !limiter.Allow() {
				return message.FaultResponse(message.CodeRateLimited, "rate limit exceeded"), nil
			}
			return next(ctx, req)
		}
	}
}
