// Package protocol implements the binary frame protocol of the TCP transport.
//
// A fixed-size 15-byte header is followed by a variable-length body. The
// receiver reads the header first to learn the body length, then reads exactly
// that many bytes.
//
// Frame format:
//
//	0      3  4  5  6  7         11        15
//	┌──────┬──┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│fl│   seq   │ bodyLen │    body ...    │
//	│ dsp  │01│  │  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴──┴─────────┴─────────┴───────────────┘
//
// When FlagGzip is set the body is gzip-compressed on the wire; Encode and
// Decode compress and decompress transparently.
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

const (
	MagicNumber byte = 0x64 // 'd'
	MagicByte2  byte = 0x73 // 's'
	MagicByte3  byte = 0x70 // 'p'
	Version     byte = 0x01
	HeaderSize  int  = 15 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 1 (flags) + 4 (seq) + 4 (bodyLen)

	// MaxBodyLen bounds a single frame body as read from the wire.
	MaxBodyLen uint32 = 64 << 20
)

// MsgType distinguishes request, response, heartbeat and error frames.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0 // client → server call
	MsgTypeResponse  MsgType = 1 // server → client result or fault
	MsgTypeHeartbeat MsgType = 2 // keepalive probe, no body
	MsgTypeError     MsgType = 3 // server → client fatal error; body is the error text
)

// Codec type constants, mirrored from the codec package to avoid a circular import.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

// Header flags.
const (
	FlagGzip       byte = 1 << 0 // body is gzip-compressed
	FlagAcceptGzip byte = 1 << 1 // sender accepts a gzip-compressed reply
)

// Header is the fixed frame header.
type Header struct {
	CodecType byte
	MsgType   MsgType
	Flags     byte
	Seq       uint32 // matches a response to its request
	BodyLen   uint32 // set by Encode from the body actually written
}

// Encode writes a complete frame (header + body) to w, compressing the body
// when h.Flags has FlagGzip. The caller must hold a write lock if several
// goroutines share w.
func Encode(w io.Writer, h *Header, body []byte) error {
	if h.Flags&FlagGzip != 0 && len(body) > 0 {
		compressed, err := compress(body)
		if err != nil {
			return err
		}
		body = compressed
	}
	h.BodyLen = uint32(len(body))

	buf := make([]byte, HeaderSize, HeaderSize+len(body))
	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	buf[6] = h.Flags
	binary.BigEndian.PutUint32(buf[7:11], h.Seq)
	binary.BigEndian.PutUint32(buf[11:15], h.BodyLen)

	// one Write per frame so that unlocked writers never split a frame
	_, err := w.Write(append(buf, body...))
	return err
}

// Decode reads a complete frame from r. It validates magic number, version,
// codec type, message type and body length, and decompresses gzip bodies.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}
	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeBinary {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}
	msgType := MsgType(headerBuf[5])
	if msgType > MsgTypeError {
		return nil, nil, fmt.Errorf("unsupported message type: %d", msgType)
	}

	h := &Header{
		CodecType: headerBuf[4],
		MsgType:   msgType,
		Flags:     headerBuf[6],
		Seq:       binary.BigEndian.Uint32(headerBuf[7:11]),
		BodyLen:   binary.BigEndian.Uint32(headerBuf[11:15]),
	}
	if h.BodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("body length %d exceeds limit %d", h.BodyLen, MaxBodyLen)
	}

	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}
	if h.Flags&FlagGzip != 0 && len(body) > 0 {
		plain, err := decompress(body)
		if err != nil {
			return nil, nil, fmt.Errorf("decompress body: %w", err)
		}
		body = plain
	}
	return h, body, nil
}

func compress(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(body []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	// bound the inflated size as well as the wire size
	plain, err := io.ReadAll(io.LimitReader(zr, int64(MaxBodyLen)+1))
	if err != nil {
		return nil, err
	}
	if len(plain) > int(MaxBodyLen) {
		return nil, fmt.Errorf("inflated body exceeds limit %d", MaxBodyLen)
	}
	return plain, nil
}
