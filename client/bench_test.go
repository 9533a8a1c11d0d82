package client

import (
	"context"
	"testing"

	"dispatch-rpc/codec"
	"dispatch-rpc/message"
	"dispatch-rpc/registry"
	"dispatch-rpc/server"
	"dispatch-rpc/value"
)

func setupClient(b *testing.B, ct codec.CodecType) *Client {
	reg := registry.NewMemoryRegistry()
	startServer(b, reg, server.DefaultConfig())
	cli := NewClient(reg, WithCodec(ct))
	b.Cleanup(func() { cli.Close() })
	return cli
}

// One goroutine, one call at a time
func BenchmarkSerialCall(b *testing.B) {
	cli := setupClient(b, codec.CodecTypeBinary)
	ctx := context.Background()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := cli.Call(ctx, "examples.add", value.Int(1), value.Int(2)); err != nil {
			b.Fatal(err)
		}
	}
}

// Many goroutines sharing one multiplexed connection
func BenchmarkConcurrentCall(b *testing.B) {
	cli := setupClient(b, codec.CodecTypeBinary)
	ctx := context.Background()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := cli.Call(ctx, "examples.add", value.Int(1), value.Int(2)); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

func benchmarkCodec(b *testing.B, ct codec.CodecType) {
	cdc := codec.GetCodec(ct)
	msg := message.RequestMessage(message.NewRequest("examples.sortByAge", value.Of(
		value.NewStruct(value.Member{Name: "name", Value: value.String("Dave")}, value.Member{Name: "age", Value: value.Int(35)}),
		value.NewStruct(value.Member{Name: "name", Value: value.String("Edd")}, value.Member{Name: "age", Value: value.Int(45)}),
	)))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, err := cdc.Encode(msg)
		if err != nil {
			b.Fatal(err)
		}
		var out message.RPCMessage
		if err := cdc.Decode(data, &out); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCodecJSON(b *testing.B)   { benchmarkCodec(b, codec.CodecTypeJSON) }
func BenchmarkCodecBinary(b *testing.B) { benchmarkCodec(b, codec.CodecTypeBinary) }
