package middleware

import (
	"context"
	"fmt"
	"time"

	"dispatch-rpc/message"
)

// TimeoutMiddleware bounds each call by timeout. When the deadline passes
// first the call fails with an error wrapping context.DeadlineExceeded; the
// next handler keeps running with a cancelled context and its result is
// dropped.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	type result struct {
		resp message.Response
		err  error
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (message.Response, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan result, 1)
			go func() {
				resp, err := next(ctx, req)
				done <- result{resp, err}
			}()

			select {
			case r := <-done:
				return r.resp, r.err
			case <-ctx.Done():
				return message.Response{}, fmt.Errorf("%s timed out after %s: %w", req.Method, timeout, ctx.Err())
			}
		}
	}
}
