// Package transport implements the client side of the framed TCP protocol,
// with multiplexing and heartbeat.
//
// ClientTransport runs many concurrent calls over a single TCP connection.
// Each request gets a unique sequence ID, and a background goroutine
// (recvLoop) reads responses and routes them to the right caller through
// its pending channel.
//
//	goroutine-1 ──Send(seq=1)──┐
//	goroutine-2 ──Send(seq=2)──┼──→ single TCP conn ──→ Server
//	goroutine-3 ──Send(seq=3)──┘
//
//	recvLoop:  ←── response(seq=2) → pending[2] chan ← reply → goroutine-2 wakes up
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"dispatch-rpc/codec"
	"dispatch-rpc/message"
	"dispatch-rpc/protocol"
)

// DefaultHeartbeat is the interval between heartbeat frames.
const DefaultHeartbeat = 30 * time.Second

// ErrClosed is returned for calls on a transport whose connection is gone.
var ErrClosed = errors.New("transport: connection closed")

// RemoteError is a call the server aborted instead of answering, which
// happens when its exception handling is set to rethrow.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote call %s failed: %s", e.Method, e.Message)
}

// Reply is what a pending caller receives: a response, or the error that
// prevented one.
type Reply struct {
	Response message.Response
	Err      error
}

type pendingCall struct {
	method string
	ch     chan *Reply
}

// ClientTransport manages a single multiplexed TCP connection.
type ClientTransport struct {
	conn      net.Conn        // Underlying TCP connection
	codec     codec.CodecType // Serialization format for this transport
	flags     byte            // Header flags set on every request
	heartbeat time.Duration
	logger    *zap.Logger

	seq     uint32     // Monotonically increasing sequence number (protected by sending mutex)
	pending sync.Map   // map[uint32]*pendingCall, each request waits on its own channel
	sending sync.Mutex // Write lock: frames from concurrent callers must not interleave

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

type Option func(*ClientTransport)

// WithCompression gzips request bodies and asks the server for gzipped
// replies.
func WithCompression() Option {
	return func(t *ClientTransport) { t.flags |= protocol.FlagGzip | protocol.FlagAcceptGzip }
}

// WithHeartbeat sets the heartbeat interval. Zero disables heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(t *ClientTransport) { t.heartbeat = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(t *ClientTransport) { t.logger = l }
}

// NewClientTransport creates a transport for conn and starts two background goroutines:
//   - recvLoop: reads responses from the connection and dispatches them to pending callers
//   - heartbeatLoop: sends periodic heartbeat frames to detect dead connections
func NewClientTransport(conn net.Conn, ct codec.CodecType, opts ...Option) *ClientTransport {
	t := &ClientTransport{
		conn:      conn,
		codec:     ct,
		heartbeat: DefaultHeartbeat,
		logger:    zap.NewNop(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	go t.recvLoop()
	if t.heartbeat > 0 {
		go t.heartbeatLoop(t.heartbeat)
	}
	return t
}

// Dial connects to addr and wraps the connection in a ClientTransport.
func Dial(ctx context.Context, addr string, ct codec.CodecType, opts ...Option) (*ClientTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewClientTransport(conn, ct, opts...), nil
}

// Send encodes and writes req. It returns the sequence number and a channel
// that receives exactly one Reply.
//
// The sending mutex makes the whole frame (header + body) one write from
// the connection's point of view.
func (t *ClientTransport) Send(req *message.Request) (uint32, <-chan *Reply, error) {
	body, err := codec.GetCodec(t.codec).Encode(message.RequestMessage(req))
	if err != nil {
		return 0, nil, err
	}

	t.sending.Lock()
	defer t.sending.Unlock()
	if err := t.Err(); err != nil {
		return 0, nil, err
	}

	t.seq++
	seq := t.seq
	header := protocol.Header{
		CodecType: byte(t.codec),
		MsgType:   protocol.MsgTypeRequest,
		Flags:     t.flags,
		Seq:       seq,
	}

	// Register the channel BEFORE sending, or recvLoop could see the reply first
	pc := &pendingCall{method: req.Method, ch: make(chan *Reply, 1)}
	t.pending.Store(seq, pc)

	if err := protocol.Encode(t.conn, &header, body); err != nil {
		t.pending.Delete(seq)
		return 0, nil, err
	}
	return seq, pc.ch, nil
}

// Call sends req and waits for its reply or for ctx to end. A fault is a
// Response; the error is reserved for transport failures and calls the
// server aborted (*RemoteError).
func (t *ClientTransport) Call(ctx context.Context, req *message.Request) (message.Response, error) {
	seq, ch, err := t.Send(req)
	if err != nil {
		return message.Response{}, err
	}
	select {
	case r := <-ch:
		return r.Response, r.Err
	case <-ctx.Done():
		t.pending.Delete(seq)
		return message.Response{}, ctx.Err()
	}
}

// recvLoop reads frames until the connection breaks and routes each one to
// its caller by sequence number. Responses may arrive in any order.
//
// A single goroutine reads: TCP is a byte stream and frame boundaries are
// only known to a sequential reader.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.fail(err)
			return
		}

		v, ok := t.pending.LoadAndDelete(header.Seq)
		if !ok {
			// the caller gave up on this one
			t.logger.Debug("reply without caller", zap.Uint32("seq", header.Seq))
			continue
		}
		pc := v.(*pendingCall)
		pc.ch <- t.reply(pc.method, header, body)
	}
}

func (t *ClientTransport) reply(method string, header *protocol.Header, body []byte) *Reply {
	switch header.MsgType {
	case protocol.MsgTypeError:
		return &Reply{Err: &RemoteError{Method: method, Message: string(body)}}
	case protocol.MsgTypeResponse:
	default:
		return &Reply{Err: fmt.Errorf("transport: unexpected frame type %d", header.MsgType)}
	}

	var msg message.RPCMessage
	if err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, &msg); err != nil {
		return &Reply{Err: fmt.Errorf("decode response: %w", err)}
	}
	return &Reply{Response: msg.Response()}
}

// fail records the first connection error and wakes every pending caller
// so none of them blocks forever.
func (t *ClientTransport) fail(err error) {
	t.closeOnce.Do(func() {
		t.errMu.Lock()
		t.err = fmt.Errorf("%w: %v", ErrClosed, err)
		t.errMu.Unlock()
		close(t.done)
		t.conn.Close()
	})
	t.pending.Range(func(key, v any) bool {
		if _, ok := t.pending.LoadAndDelete(key); ok {
			v.(*pendingCall).ch <- &Reply{Err: t.Err()}
		}
		return true
	})
}

// Err returns the error that closed the transport, or nil while it is usable.
func (t *ClientTransport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

// Done is closed when the connection is gone.
func (t *ClientTransport) Done() <-chan struct{} { return t.done }

// Close closes the connection. Pending calls fail with ErrClosed.
func (t *ClientTransport) Close() error {
	t.fail(errors.New("closed by client"))
	return nil
}

// Conn returns the underlying TCP connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}

// heartbeatLoop sends heartbeat frames so that idle connections are not
// dropped. Heartbeats have no body and are never answered.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		header := &protocol.Header{MsgType: protocol.MsgTypeHeartbeat}
		// Heartbeat writes also need the sending lock to avoid frame interleaving
		t.sending.Lock()
		err := protocol.Encode(t.conn, header, nil)
		t.sending.Unlock()
		if err != nil {
			t.fail(err)
			return
		}
	}
}
