// Package client calls dispatch servers: over the framed TCP protocol with
// registry discovery and load balancing, or over HTTP JSON-RPC.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"dispatch-rpc/codec"
	"dispatch-rpc/loadbalance"
	"dispatch-rpc/message"
	"dispatch-rpc/middleware"
	"dispatch-rpc/registry"
	"dispatch-rpc/transport"
	"dispatch-rpc/value"
)

// Caller is what Client and HTTPClient have in common.
type Caller interface {
	Call(ctx context.Context, method string, params ...value.Value) (message.Response, error)
}

// Client discovers the instances of a service, picks one per call and
// keeps one multiplexed transport per instance address.
type Client struct {
	registry      registry.Registry // find service instances
	balancer      loadbalance.Balancer
	service       string
	codecType     codec.CodecType
	transportOpts []transport.Option
	logger        *zap.Logger
	middlewares   []middleware.Middleware
	handler       middleware.HandlerFunc

	mu         sync.Mutex
	transports map[string]*transport.ClientTransport // transport for each service instance
}

type Option func(*Client)

// WithService sets the service name looked up in the registry.
func WithService(name string) Option {
	return func(c *Client) { c.service = name }
}

// WithBalancer sets the load balancing strategy. Round robin by default.
func WithBalancer(b loadbalance.Balancer) Option {
	return func(c *Client) { c.balancer = b }
}

// WithCodec sets the codec used on the wire. Binary by default.
func WithCodec(ct codec.CodecType) Option {
	return func(c *Client) { c.codecType = ct }
}

// WithCompression gzips requests and accepts gzipped replies.
func WithCompression() Option {
	return func(c *Client) { c.transportOpts = append(c.transportOpts, transport.WithCompression()) }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMiddleware wraps every call, discovery and instance choice included,
// so a retry may land on another instance.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(c *Client) { c.middlewares = append(c.middlewares, mws...) }
}

// Retryable reports whether err means the call never reached a server:
// the connection broke or could not be made. For RetryMiddleware.
func Retryable(err error) bool {
	var opErr *net.OpError
	return errors.Is(err, transport.ErrClosed) || errors.As(err, &opErr)
}

// NewClient creates a client resolving servers through reg.
func NewClient(reg registry.Registry, opts ...Option) *Client {
	c := &Client{
		registry:   reg,
		balancer:   &loadbalance.RoundRobinBalancer{},
		service:    "dispatch",
		codecType:  codec.CodecTypeBinary,
		logger:     zap.NewNop(),
		transports: make(map[string]*transport.ClientTransport),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.transportOpts = append(c.transportOpts, transport.WithLogger(c.logger))
	c.handler = middleware.Chain(c.middlewares...)(c.call)
	return c
}

// Call invokes method on an instance that serves it. Faults are returned
// as a Response; the error covers discovery, the connection, and calls the
// server aborted (*transport.RemoteError).
func (c *Client) Call(ctx context.Context, method string, params ...value.Value) (message.Response, error) {
	return c.handler(ctx, message.NewRequest(method, params...))
}

func (c *Client) call(ctx context.Context, req *message.Request) (message.Response, error) {
	method := req.Method
	instances, err := c.registry.Discover(ctx, c.service)
	if err != nil {
		return message.Response{}, fmt.Errorf("discover %s: %w", c.service, err)
	}

	// Only instances announcing the method are candidates
	instance, err := c.balancer.Pick(method, registry.Serving(instances, method))
	if err != nil {
		return message.Response{}, fmt.Errorf("%s: %w", method, err)
	}

	t, err := c.getTransport(ctx, instance.Addr)
	if err != nil {
		return message.Response{}, err
	}
	return t.Call(ctx, req)
}

// getTransport returns the live transport for addr, dialing a new one when
// there is none or the previous connection broke.
func (c *Client) getTransport(ctx context.Context, addr string) (*transport.ClientTransport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.transports[addr]; ok {
		if t.Err() == nil {
			return t, nil
		}
		c.logger.Info("reconnecting", zap.String("addr", addr), zap.Error(t.Err()))
		delete(c.transports, addr)
	}

	t, err := transport.Dial(ctx, addr, c.codecType, c.transportOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c.transports[addr] = t
	return t, nil
}

// Close closes every transport.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, t := range c.transports {
		t.Close()
		delete(c.transports, addr)
	}
	return nil
}

// Invoke calls method with native params and decodes the result into
// result, which may be nil. A fault is returned as a *message.Fault error.
func Invoke(ctx context.Context, c Caller, method string, result any, params ...any) error {
	vals := make([]value.Value, len(params))
	for i, p := range params {
		v, err := value.Encode(p)
		if err != nil {
			return fmt.Errorf("param %d: %w", i+1, err)
		}
		vals[i] = v
	}

	resp, err := c.Call(ctx, method, vals...)
	if err != nil {
		return err
	}
	if f, ok := resp.Fault(); ok {
		return f
	}
	if result == nil {
		return nil
	}
	v, _ := resp.Value()
	return value.DecodeInto(v, result)
}
