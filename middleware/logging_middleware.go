package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dispatch-rpc/message"
)

// LoggingMiddleware logs every call with its duration and outcome.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (message.Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.Int("params", len(req.Params)),
				zap.Duration("duration", time.Since(start)),
			}
			switch {
			case err != nil:
				logger.Error("call failed", append(fields, zap.Error(err))...)
			case resp.IsFault():
				f, _ := resp.Fault()
				logger.Info("call faulted", append(fields, zap.Int("fault_code", f.Code), zap.String("fault_string", f.String))...)
			default:
				logger.Debug("call succeeded", fields...)
			}
			return resp, err
		}
	}
}
