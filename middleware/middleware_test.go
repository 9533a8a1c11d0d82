package middleware

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"dispatch-rpc/message"
	"dispatch-rpc/value"
)

// echoHandler returns its first parameter.
func echoHandler(ctx context.Context, req *message.Request) (message.Response, error) {
	if len(req.Params) == 0 {
		return message.Success(value.String("ok")), nil
	}
	return message.Success(req.Params[0]), nil
}

func faultHandler(ctx context.Context, req *message.Request) (message.Response, error) {
	return message.FaultResponse(message.CodeUser, "nope"), nil
}

func failingHandler(ctx context.Context, req *message.Request) (message.Response, error) {
	return message.Response{}, errors.New("boom")
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := LoggingMiddleware(zap.New(core))(echoHandler)

	resp, err := handler(context.Background(), message.NewRequest("examples.stringecho", value.String("hi")))
	require.NoError(t, err)
	v, ok := resp.Value()
	require.True(t, ok)
	assert.Equal(t, value.String("hi"), v)

	entries := logs.FilterField(zap.String("method", "examples.stringecho")).All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
}

func TestLoggingFaultAndError(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	_, err := LoggingMiddleware(logger)(faultHandler)(context.Background(), message.NewRequest("a"))
	require.NoError(t, err)
	_, err = LoggingMiddleware(logger)(failingHandler)(context.Background(), message.NewRequest("b"))
	require.Error(t, err)

	assert.Equal(t, 1, logs.FilterMessage("call faulted").Len())
	assert.Equal(t, 1, logs.FilterMessage("call failed").Len())
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2: the first two calls pass, the third is rejected
	handler := RateLimitMiddleware(1, 2)(echoHandler)
	req := message.NewRequest("examples.addtwo")

	for i := 0; i < 2; i++ {
		resp, err := handler(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, resp.IsFault(), "request %d should pass", i)
	}

	resp, err := handler(context.Background(), req)
	require.NoError(t, err)
	f, ok := resp.Fault()
	require.True(t, ok)
	assert.Equal(t, message.CodeRateLimited, f.Code)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	known := func(name string) bool { return name == "examples.stringecho" }
	mw := m.Middleware(known)
	ctx := context.Background()

	_, _ = mw(echoHandler)(ctx, message.NewRequest("examples.stringecho"))
	_, _ = mw(faultHandler)(ctx, message.NewRequest("no.such.method"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("examples.stringecho", "success", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("unknown", "fault", "800")))

	_, err = NewMetrics(reg)
	assert.Error(t, err, "registering twice must fail")
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Request) (message.Response, error) {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}

	handler := Chain(mark("a"), mark("b"), LoggingMiddleware(zap.NewNop()))(echoHandler)
	resp, err := handler(context.Background(), message.NewRequest("x"))
	require.NoError(t, err)
	assert.False(t, resp.IsFault())
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestTimeout(t *testing.T) {
	slow := func(ctx context.Context, req *message.Request) (message.Response, error) {
		select {
		case <-time.After(time.Second):
			return message.Success(value.Boolean(true)), nil
		case <-ctx.Done():
			return message.Response{}, ctx.Err()
		}
	}

	_, err := TimeoutMiddleware(20*time.Millisecond)(slow)(context.Background(), message.NewRequest("examples.slow"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "examples.slow")

	resp, err := TimeoutMiddleware(time.Second)(echoHandler)(context.Background(), message.NewRequest("x", value.Int(1)))
	require.NoError(t, err)
	v, _ := resp.Value()
	assert.Equal(t, value.Int(1), v)
}

var errFlaky = errors.New("connection refused")

func TestRetry(t *testing.T) {
	var calls atomic.Int32
	flaky := func(ctx context.Context, req *message.Request) (message.Response, error) {
		if calls.Add(1) < 3 {
			return message.Response{}, errFlaky
		}
		return message.Success(value.String("ok")), nil
	}
	retryable := func(err error) bool { return errors.Is(err, errFlaky) }
	core, logs := observer.New(zapcore.InfoLevel)

	resp, err := RetryMiddleware(3, time.Millisecond, retryable, zap.New(core))(flaky)(context.Background(), message.NewRequest("x"))
	require.NoError(t, err)
	assert.False(t, resp.IsFault())
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2, logs.FilterMessage("retrying call").Len())

	// out of retries
	calls.Store(-10)
	_, err = RetryMiddleware(2, time.Millisecond, retryable, nil)(flaky)(context.Background(), message.NewRequest("x"))
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, int32(-7), calls.Load())

	// errors retryable rejects, and faults, are returned at once
	calls.Store(0)
	_, err = RetryMiddleware(3, time.Millisecond, retryable, nil)(failingHandler)(context.Background(), message.NewRequest("x"))
	assert.EqualError(t, err, "boom")
	resp, err = RetryMiddleware(3, time.Millisecond, retryable, nil)(faultHandler)(context.Background(), message.NewRequest("x"))
	require.NoError(t, err)
	assert.True(t, resp.IsFault())
}

func TestRetryStopsWhenContextDone(t *testing.T) {
	var calls atomic.Int32
	down := func(ctx context.Context, req *message.Request) (message.Response, error) {
		calls.Add(1)
		return message.Response{}, errFlaky
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := RetryMiddleware(10, time.Second, func(error) bool { return true }, nil)(down)(ctx, message.NewRequest("x"))
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, int32(1), calls.Load())
}
