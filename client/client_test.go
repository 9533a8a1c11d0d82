package client

import (
	"context"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"dispatch-rpc/codec"
	"dispatch-rpc/loadbalance"
	"dispatch-rpc/message"
	"dispatch-rpc/middleware"
	"dispatch-rpc/registry"
	"dispatch-rpc/server"
	"dispatch-rpc/transport"
	"dispatch-rpc/value"
)

type Args struct {
	A int64 `rpc:"a"`
	B int64 `rpc:"b"`
}

type Reply struct {
	Sum  int64  `rpc:"sum"`
	From string `rpc:"from"`
}

// startServer runs a server announcing itself to reg. Every instance answers
// examples.whoami with its own address.
func startServer(t testing.TB, reg registry.Registry, cfg server.Config, extra ...string) (*server.Server, string) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()

	svr := server.NewServer(server.WithConfig(cfg))
	if _, ok := t.(*testing.T); ok {
		svr.Use(middleware.LoggingMiddleware(zaptest.NewLogger(t)))
	}
	require.NoError(t, svr.RegisterFunc("examples.add", func(a, b int64) int64 { return a + b }))
	require.NoError(t, svr.RegisterFunc("examples.whoami", func() string { return addr }))
	require.NoError(t, svr.RegisterFunc("examples.sum", func(args Args) Reply {
		return Reply{Sum: args.A + args.B, From: addr}
	}))
	require.NoError(t, svr.RegisterFunc("tests.raiseException", func() (string, error) {
		return "", message.Errorf(message.CodeUser+1, "raised on purpose")
	}))
	for _, name := range extra {
		require.NoError(t, svr.RegisterFunc(name, func() string { return name }))
	}

	go svr.Serve(lis, addr, reg)
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	require.Eventually(t, func() bool {
		insts, _ := reg.Discover(context.Background(), server.DefaultServiceName)
		return len(registry.Serving(insts, "examples.whoami")) > 0 && containsAddr(insts, addr)
	}, time.Second, 10*time.Millisecond)
	return svr, addr
}

func containsAddr(insts []registry.ServiceInstance, addr string) bool {
	for _, inst := range insts {
		if inst.Addr == addr {
			return true
		}
	}
	return false
}

func TestClientCall(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	startServer(t, reg, server.DefaultConfig())

	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeBinary} {
		t.Run(ct.String(), func(t *testing.T) {
			cli := NewClient(reg, WithCodec(ct))
			defer cli.Close()

			resp, err := cli.Call(context.Background(), "examples.add", value.Int(1), value.Int(2))
			require.NoError(t, err)
			v, ok := resp.Value()
			require.True(t, ok)
			assert.Equal(t, value.Int(3), v)

			resp, err = cli.Call(context.Background(), "examples.add", value.Int(1))
			require.NoError(t, err)
			f, ok := resp.Fault()
			require.True(t, ok)
			assert.Equal(t, message.CodeIncorrectParams, f.Code)
		})
	}
}

func TestClientLoadBalancing(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	_, addr1 := startServer(t, reg, server.DefaultConfig())
	svr2, addr2 := startServer(t, reg, server.DefaultConfig(), "examples.onlyhere")

	cli := NewClient(reg, WithCompression())
	defer cli.Close()

	seen := map[string]int{}
	for range 10 {
		var from string
		require.NoError(t, Invoke(context.Background(), cli, "examples.whoami", &from))
		seen[from]++
	}
	assert.Equal(t, map[string]int{addr1: 5, addr2: 5}, seen)

	// only the second instance announced examples.onlyhere
	for range 3 {
		var got string
		require.NoError(t, Invoke(context.Background(), cli, "examples.onlyhere", &got))
		assert.Equal(t, "examples.onlyhere", got)
	}

	// after shutdown the instance is gone from the registry
	require.NoError(t, svr2.Shutdown(time.Second))
	for range 4 {
		var from string
		require.NoError(t, Invoke(context.Background(), cli, "examples.whoami", &from))
		assert.Equal(t, addr1, from)
	}
	_, err := cli.Call(context.Background(), "examples.onlyhere")
	assert.ErrorIs(t, err, registry.ErrNoInstances)
}

func TestClientConsistentHash(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	startServer(t, reg, server.DefaultConfig())
	startServer(t, reg, server.DefaultConfig())

	cli := NewClient(reg, WithBalancer(loadbalance.NewConsistentHashBalancer()))
	defer cli.Close()

	var first string
	require.NoError(t, Invoke(context.Background(), cli, "examples.whoami", &first))
	for range 5 {
		var from string
		require.NoError(t, Invoke(context.Background(), cli, "examples.whoami", &from))
		assert.Equal(t, first, from)
	}
}

func TestInvoke(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	_, addr := startServer(t, reg, server.DefaultConfig())
	cli := NewClient(reg)
	defer cli.Close()
	ctx := context.Background()

	var reply Reply
	require.NoError(t, Invoke(ctx, cli, "examples.sum", &reply, Args{A: 2, B: 40}))
	assert.Equal(t, Reply{Sum: 42, From: addr}, reply)

	err := Invoke(ctx, cli, "tests.raiseException", nil)
	var f *message.Fault
	require.ErrorAs(t, err, &f)
	assert.Equal(t, message.CodeServerError, f.Code)

	assert.Error(t, Invoke(ctx, cli, "examples.add", nil, make(chan int), 1))
}

func TestClientRethrow(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	startServer(t, reg, server.Config{ExceptionHandling: server.ExceptionRethrow})
	cli := NewClient(reg)
	defer cli.Close()

	_, err := cli.Call(context.Background(), "tests.raiseException")
	var remote *transport.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, "raised on purpose")
}

func TestHTTPClient(t *testing.T) {
	cfgs := map[string]server.Config{
		"plain":    server.DefaultConfig(),
		"latin1":   {ResponseCharset: "ISO-8859-1"},
		"compress": {CompressResponse: true, ExceptionHandling: server.ExceptionDirect},
	}
	for name, cfg := range cfgs {
		t.Run(name, func(t *testing.T) {
			svr := server.NewServer(server.WithConfig(cfg))
			require.NoError(t, svr.RegisterFunc("examples.stringecho", func(s string) string { return s }))
			require.NoError(t, svr.RegisterFunc("tests.raiseException", func() (string, error) {
				return "", message.Errorf(message.CodeUser+1, "raised on purpose")
			}))
			ts := httptest.NewServer(svr.HTTPHandler())
			defer ts.Close()

			cli := NewHTTPClient(ts.URL, WithHTTPCompression())
			var got string
			require.NoError(t, Invoke(context.Background(), cli, "examples.stringecho", &got, "café ☃"))
			assert.Equal(t, "café ☃", got)

			resp, err := cli.Call(context.Background(), "examples.stringecho")
			require.NoError(t, err)
			f, ok := resp.Fault()
			require.True(t, ok)
			assert.Equal(t, message.CodeIncorrectParams, f.Code)

			resp, err = cli.Call(context.Background(), "tests.raiseException")
			require.NoError(t, err)
			f, ok = resp.Fault()
			require.True(t, ok)
			if cfg.ExceptionHandling == server.ExceptionDirect {
				assert.Equal(t, message.CodeUser+1, f.Code)
			} else {
				assert.Equal(t, message.CodeServerError, f.Code)
			}
		})
	}
}

func TestHTTPClientRethrow(t *testing.T) {
	svr := server.NewServer(server.WithConfig(server.Config{ExceptionHandling: server.ExceptionRethrow}))
	require.NoError(t, svr.RegisterFunc("tests.raiseException", func() (string, error) {
		return "", message.Errorf(message.CodeUser+1, "raised on purpose")
	}))
	ts := httptest.NewServer(svr.HTTPHandler())
	defer ts.Close()

	_, err := NewHTTPClient(ts.URL).Call(context.Background(), "tests.raiseException")
	var remote *transport.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "tests.raiseException", remote.Method)
}

// A dead instance in the registry costs one retry: round robin moves the
// second attempt on to the live one.
func TestClientRetryOnDeadInstance(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	_, live := startServer(t, reg, server.DefaultConfig())

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := lis.Addr().String()
	require.NoError(t, lis.Close())
	require.NoError(t, reg.Register(context.Background(), server.DefaultServiceName, registry.ServiceInstance{Addr: dead, Weight: 1}, 10))

	core, logs := observer.New(zap.InfoLevel)
	cli := NewClient(reg, WithMiddleware(
		middleware.RetryMiddleware(1, time.Millisecond, Retryable, zap.New(core)),
		middleware.TimeoutMiddleware(time.Second),
	))
	defer cli.Close()

	for range 4 {
		var from string
		require.NoError(t, Invoke(context.Background(), cli, "examples.whoami", &from))
		assert.Equal(t, live, from)
	}
	assert.Positive(t, logs.FilterMessage("retrying call").Len())

	// without retries the dead instance surfaces as a dial error
	plain := NewClient(reg)
	defer plain.Close()
	var failures int
	for range 4 {
		if _, err := plain.Call(context.Background(), "examples.whoami"); err != nil {
			assert.True(t, Retryable(err), err.Error())
			failures++
		}
	}
	assert.Equal(t, 2, failures)
}
