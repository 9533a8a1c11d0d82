package server

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// call is the per-request state Dispatch attaches to the context: the
// configuration snapshot taken for the request, its logger and the debug
// messages collected while it ran.
type call struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	messages []string
}

type callKey struct{}

func withCall(ctx context.Context, c *call) context.Context {
	return context.WithValue(ctx, callKey{}, c)
}

func callFrom(ctx context.Context) *call {
	c, _ := ctx.Value(callKey{}).(*call)
	return c
}

// Logger returns the logger of the request running on ctx, or a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if c := callFrom(ctx); c != nil {
		return c.logger
	}
	return zap.NewNop()
}

// DebugMsg records a debug message for the current request. It is logged at
// debug level and, when the server's debug level is at least 1, echoed to
// HTTP clients in X-Debug-Message headers.
func DebugMsg(ctx context.Context, msg string) {
	c := callFrom(ctx)
	if c == nil {
		return
	}
	c.logger.Debug(msg)
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.mu.Unlock()
}

// Warn reports a non-fatal diagnostic raised while handling the current
// request. It is logged and never changes the response.
func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	if c := callFrom(ctx); c != nil {
		c.logger.Warn(msg, fields...)
	}
}

// DebugMessages returns the messages recorded with DebugMsg so far.
func DebugMessages(ctx context.Context) []string {
	if c := callFrom(ctx); c != nil {
		return c.snapshot()
	}
	return nil
}

func (c *call) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages...)
}
