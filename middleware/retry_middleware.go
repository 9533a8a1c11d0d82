package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dispatch-rpc/message"
)

// RetryMiddleware calls next again, up to maxRetries times, while it fails
// with an error retryable accepts. The delay doubles from baseDelay after
// each attempt. Faults are answers and are never retried; neither is
// anything once ctx is done.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, retryable func(error) bool, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (message.Response, error) {
			resp, err := next(ctx, req)
			for i := 0; i < maxRetries && err != nil && retryable(err); i++ {
				delay := baseDelay * time.Duration(1<<i) // exponential backoff
				logger.Info("retrying call",
					zap.String("method", req.Method),
					zap.Int("attempt", i+1),
					zap.Duration("delay", delay),
					zap.Error(err))

				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return resp, err
				case <-timer.C:
				}
				resp, err = next(ctx, req)
			}
			return resp, err
		}
	}
}
