package server

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch-rpc/codec"
	"dispatch-rpc/message"
	"dispatch-rpc/protocol"
	"dispatch-rpc/registry"
	"dispatch-rpc/signature"
	"dispatch-rpc/value"
)

func startServer(t *testing.T, cfg Config, reg registry.Registry) (*Server, string) {
	t.Helper()
	svr := NewServer(WithConfig(cfg))
	require.NoError(t, svr.Register(Method{
		Name:       "examples.addtwo",
		Handler:    countingAdd(new(atomic.Int32)),
		Signatures: []signature.Signature{sig("int", "int", "int")},
	}))
	require.NoError(t, svr.Register(raising(errors.New("boom"))))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	go svr.Serve(lis, addr, reg)
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	return svr, addr
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn net.Conn, ct codec.CodecType, flags byte, seq uint32, body []byte) {
	t.Helper()
	require.NoError(t, protocol.Encode(conn, &protocol.Header{
		CodecType: byte(ct),
		MsgType:   protocol.MsgTypeRequest,
		Flags:     flags,
		Seq:       seq,
	}, body))
}

func roundTrip(t *testing.T, conn net.Conn, ct codec.CodecType, seq uint32, req *message.Request) (*protocol.Header, message.Response) {
	t.Helper()
	cdc := codec.GetCodec(ct)
	body, err := cdc.Encode(message.RequestMessage(req))
	require.NoError(t, err)
	send(t, conn, ct, 0, seq, body)

	h, reply, err := protocol.Decode(conn)
	require.NoError(t, err)
	require.Equal(t, protocol.MsgTypeResponse, h.MsgType)
	var msg message.RPCMessage
	require.NoError(t, cdc.Decode(reply, &msg))
	return h, msg.Response()
}

func TestServerCodecs(t *testing.T) {
	_, addr := startServer(t, DefaultConfig(), nil)

	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeBinary} {
		t.Run(ct.String(), func(t *testing.T) {
			conn := dial(t, addr)

			h, resp := roundTrip(t, conn, ct, 123, message.NewRequest("examples.addtwo", value.Int(3), value.Int(4)))
			assert.Equal(t, uint32(123), h.Seq)
			assert.Equal(t, byte(ct), h.CodecType)
			assert.Equal(t, value.Int(7), requireValue(t, resp))

			_, resp = roundTrip(t, conn, ct, 124, message.NewRequest("examples.addtwo", value.String("3"), value.Int(4)))
			requireFault(t, resp, message.CodeIncorrectParams)

			_, resp = roundTrip(t, conn, ct, 125, message.NewRequest("tests.raiseException"))
			f := requireFault(t, resp, message.CodeServerError)
			assert.Equal(t, "boom", f.String)
		})
	}
}

func TestServerHeartbeatAndGzip(t *testing.T) {
	_, addr := startServer(t, Config{CompressResponse: true}, nil)
	conn := dial(t, addr)

	require.NoError(t, protocol.Encode(conn, &protocol.Header{MsgType: protocol.MsgTypeHeartbeat}, nil))

	cdc := codec.GetCodec(codec.CodecTypeBinary)
	body, err := cdc.Encode(message.RequestMessage(message.NewRequest("examples.addtwo", value.Int(1), value.Int(1))))
	require.NoError(t, err)
	send(t, conn, codec.CodecTypeBinary, protocol.FlagGzip|protocol.FlagAcceptGzip, 7, body)

	// Decode inflates the body, the flag stays visible
	h, reply, err := protocol.Decode(conn)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), h.Seq)
	assert.NotZero(t, h.Flags&protocol.FlagGzip)

	var msg message.RPCMessage
	require.NoError(t, cdc.Decode(reply, &msg))
	assert.Equal(t, value.Int(2), requireValue(t, msg.Response()))
}

func TestServerInvalidRequestBody(t *testing.T) {
	_, addr := startServer(t, DefaultConfig(), nil)
	conn := dial(t, addr)

	send(t, conn, codec.CodecTypeJSON, 0, 9, []byte(`{"method": 12}`))
	h, reply, err := protocol.Decode(conn)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), h.Seq)

	var msg message.RPCMessage
	require.NoError(t, codec.GetCodec(codec.CodecTypeJSON).Decode(reply, &msg))
	requireFault(t, msg.Response(), message.CodeInvalidRequest)
}

func TestServerRethrowSendsErrorFrame(t *testing.T) {
	_, addr := startServer(t, Config{ExceptionHandling: ExceptionRethrow}, nil)
	conn := dial(t, addr)

	cdc := codec.GetCodec(codec.CodecTypeBinary)
	body, err := cdc.Encode(message.RequestMessage(message.NewRequest("tests.raiseException")))
	require.NoError(t, err)
	send(t, conn, codec.CodecTypeBinary, 0, 11, body)

	h, reply, err := protocol.Decode(conn)
	require.NoError(t, err)
	assert.Equal(t, protocol.MsgTypeError, h.MsgType)
	assert.Equal(t, uint32(11), h.Seq)
	assert.Contains(t, string(reply), "boom")

	// the connection survives
	_, resp := roundTrip(t, conn, codec.CodecTypeBinary, 12, message.NewRequest("examples.addtwo", value.Int(1), value.Int(2)))
	assert.Equal(t, value.Int(3), requireValue(t, resp))
}

func TestServerAnnouncesAndDeregisters(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	svr, addr := startServer(t, DefaultConfig(), reg)

	ctx := context.Background()
	var insts []registry.ServiceInstance
	require.Eventually(t, func() bool {
		insts, _ = reg.Discover(ctx, DefaultServiceName)
		return len(insts) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, addr, insts[0].Addr)
	assert.True(t, insts[0].Serves("examples.addtwo"))
	assert.False(t, insts[0].Serves("examples.unknown"))

	require.NoError(t, svr.Shutdown(time.Second))
	insts, err := reg.Discover(ctx, DefaultServiceName)
	require.NoError(t, err)
	assert.Empty(t, insts)

	_, err = net.DialTimeout("tcp", addr, 100*time.Millisecond)
	assert.Error(t, err)
}
