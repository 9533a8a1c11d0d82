// Package codec serializes message.RPCMessage envelopes for the framed TCP
// transport. The codec in use is announced per frame in the protocol header.
package codec

import (
	"errors"
	"fmt"

	"dispatch-rpc/message"
)

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

// ErrNotMessage is returned when Encode or Decode is handed anything but an RPCMessage.
var ErrNotMessage = errors.New("codec: v must be *message.RPCMessage")

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=Binary
}

// GetCodec returns the codec for codecType, defaulting to binary.
func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return &BinaryCodec{}
}

// ParseCodecType maps a configuration name to a codec type.
func ParseCodecType(name string) (CodecType, error) {
	switch name {
	case "json":
		return CodecTypeJSON, nil
	case "binary", "":
		return CodecTypeBinary, nil
	}
	return 0, fmt.Errorf("codec: unknown codec %q", name)
}

func (t CodecType) String() string {
	if t == CodecTypeJSON {
		return "json"
	}
	return "binary"
}

func asMessage(v any) (*message.RPCMessage, error) {
	msg, ok := v.(*message.RPCMessage)
	if !ok || msg == nil {
		return nil, ErrNotMessage
	}
	return msg, nil
}
