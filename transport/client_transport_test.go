package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch-rpc/codec"
	"dispatch-rpc/message"
	"dispatch-rpc/protocol"
	"dispatch-rpc/server"
	"dispatch-rpc/value"
)

func add(a, b int64) (int64, error) { return a + b, nil }

func startServer(t *testing.T, cfg server.Config) string {
	t.Helper()
	svr := server.NewServer(server.WithConfig(cfg))
	require.NoError(t, svr.RegisterFunc("examples.add", add))
	require.NoError(t, svr.RegisterFunc("examples.slow", func(ctx context.Context) (string, error) {
		time.Sleep(200 * time.Millisecond)
		return "late", nil
	}))
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go svr.Serve(lis, lis.Addr().String(), nil)
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	return lis.Addr().String()
}

func newTransport(t *testing.T, addr string, ct codec.CodecType, opts ...Option) *ClientTransport {
	t.Helper()
	tr, err := Dial(context.Background(), addr, ct, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestClientTransportSerial(t *testing.T) {
	addr := startServer(t, server.DefaultConfig())

	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeBinary} {
		t.Run(ct.String(), func(t *testing.T) {
			tr := newTransport(t, addr, ct)
			cases := []struct{ a, b, expect int64 }{
				{1, 2, 3},
				{10, 20, 30},
				{100, 200, 300},
			}
			for _, tc := range cases {
				resp, err := tr.Call(context.Background(), message.NewRequest("examples.add", value.Int(tc.a), value.Int(tc.b)))
				require.NoError(t, err)
				v, ok := resp.Value()
				require.True(t, ok)
				assert.Equal(t, value.Int(tc.expect), v)
			}
		})
	}
}

// Many goroutines share one connection.
func TestClientTransportConcurrent(t *testing.T) {
	addr := startServer(t, server.Config{CompressResponse: true})
	tr := newTransport(t, addr, codec.CodecTypeBinary, WithCompression())

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			resp, err := tr.Call(context.Background(), message.NewRequest("examples.add", value.Int(n), value.Int(n)))
			if !assert.NoError(t, err) {
				return
			}
			v, _ := resp.Value()
			assert.Equal(t, value.Int(n*2), v)
		}(int64(i))
	}
	wg.Wait()
}

func TestClientTransportFaultsAndErrors(t *testing.T) {
	addr := startServer(t, server.DefaultConfig())
	tr := newTransport(t, addr, codec.CodecTypeJSON)

	resp, err := tr.Call(context.Background(), message.NewRequest("examples.nope"))
	require.NoError(t, err)
	f, ok := resp.Fault()
	require.True(t, ok)
	assert.Equal(t, message.CodeUnknownMethod, f.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = tr.Call(ctx, message.NewRequest("examples.slow"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the late reply is dropped and the connection stays usable
	resp, err = tr.Call(context.Background(), message.NewRequest("examples.add", value.Int(1), value.Int(1)))
	require.NoError(t, err)
	assert.False(t, resp.IsFault())
}

// readFrames decodes what the client writes on the server end of a pipe.
func readFrames(conn net.Conn) <-chan *protocol.Header {
	frames := make(chan *protocol.Header, 8)
	go func() {
		defer close(frames)
		for {
			h, _, err := protocol.Decode(conn)
			if err != nil {
				return
			}
			frames <- h
		}
	}()
	return frames
}

// The peer answers out of order and with an error frame.
func TestClientTransportRouting(t *testing.T) {
	client, srv := net.Pipe()
	tr := NewClientTransport(client, codec.CodecTypeBinary, WithHeartbeat(0))
	defer tr.Close()
	frames := readFrames(srv)

	_, first, err := tr.Send(message.NewRequest("examples.first"))
	require.NoError(t, err)
	h1 := <-frames
	_, second, err := tr.Send(message.NewRequest("examples.second"))
	require.NoError(t, err)
	h2 := <-frames
	assert.NotEqual(t, h1.Seq, h2.Seq)

	cdc := codec.GetCodec(codec.CodecTypeBinary)
	body, err := cdc.Encode(message.ResponseMessage("examples.second", message.Success(value.String("two"))))
	require.NoError(t, err)
	require.NoError(t, protocol.Encode(srv, &protocol.Header{
		CodecType: byte(codec.CodecTypeBinary),
		MsgType:   protocol.MsgTypeResponse,
		Seq:       h2.Seq,
	}, body))
	r := <-second
	require.NoError(t, r.Err)
	v, _ := r.Response.Value()
	assert.Equal(t, value.String("two"), v)

	require.NoError(t, protocol.Encode(srv, &protocol.Header{
		MsgType: protocol.MsgTypeError,
		Seq:     h1.Seq,
	}, []byte("method examples.first: boom")))
	r = <-first
	var remote *RemoteError
	require.ErrorAs(t, r.Err, &remote)
	assert.Equal(t, "examples.first", remote.Method)

	// a broken connection fails pending and later calls
	_, third, err := tr.Send(message.NewRequest("examples.third"))
	require.NoError(t, err)
	<-frames
	srv.Close()

	r = <-third
	assert.ErrorIs(t, r.Err, ErrClosed)
	<-tr.Done()
	_, _, err = tr.Send(message.NewRequest("examples.fourth"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClientTransportHeartbeat(t *testing.T) {
	client, srv := net.Pipe()
	tr := NewClientTransport(client, codec.CodecTypeJSON, WithHeartbeat(10*time.Millisecond))
	defer tr.Close()

	srv.SetReadDeadline(time.Now().Add(time.Second))
	h, body, err := protocol.Decode(srv)
	require.NoError(t, err)
	assert.Equal(t, protocol.MsgTypeHeartbeat, h.MsgType)
	assert.Empty(t, body)
}
