package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"dispatch-rpc/message"
	"dispatch-rpc/value"
)

// BinaryCodec is a compact, lossless encoding of envelopes. Every Value
// keeps its exact kind across the wire.
//
// Layout (big endian):
//
//	method   uint16 len + bytes
//	params   uint32 count + values
//	flags    1 byte: bit0 result present, bit1 fault present
//	result   value                              (if bit0)
//	fault    int64 code + uint32 len + bytes    (if bit1)
//
// A value is a kind byte followed by its payload: 8 bytes for int and
// double, 1 byte for boolean, uint32 len + bytes for string, base64 and
// datetime (time.MarshalBinary), uint32 count + values for arrays and
// uint32 count + (uint32 len + key, value) pairs for structs.
type BinaryCodec struct{}

// maxDepth bounds nesting on decode so a hostile frame cannot exhaust the stack.
const maxDepth = 128

var errShortBuffer = errors.New("BinaryCodec: unexpected end of data")

const (
	flagResult byte = 1 << 0
	flagFault  byte = 1 << 1
)

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	msg, err := asMessage(v)
	if err != nil {
		return nil, err
	}
	if len(msg.Method) > math.MaxUint16 {
		return nil, fmt.Errorf("BinaryCodec: method name too long (%d bytes)", len(msg.Method))
	}

	w := &writer{buf: make([]byte, 0, 64)}
	w.u16(uint16(len(msg.Method)))
	w.raw([]byte(msg.Method))

	w.u32(uint32(len(msg.Params)))
	for i, p := range msg.Params {
		if err := w.value(p); err != nil {
			return nil, fmt.Errorf("BinaryCodec: param %d: %w", i+1, err)
		}
	}

	var flags byte
	if msg.Result != nil {
		flags |= flagResult
	}
	if msg.Fault != nil {
		flags |= flagFault
	}
	w.buf = append(w.buf, flags)
	if msg.Result != nil {
		if err := w.value(msg.Result); err != nil {
			return nil, fmt.Errorf("BinaryCodec: result: %w", err)
		}
	}
	if msg.Fault != nil {
		w.u64(uint64(int64(msg.Fault.Code)))
		w.bytes([]byte(msg.Fault.String))
	}
	return w.buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	msg, err := asMessage(v)
	if err != nil {
		return err
	}
	r := &reader{data: data}

	n, err := r.u16()
	if err != nil {
		return err
	}
	method, err := r.take(int(n))
	if err != nil {
		return err
	}
	*msg = message.RPCMessage{Method: string(method)}

	count, err := r.u32()
	if err != nil {
		return err
	}
	if int(count) > r.remaining() {
		return errShortBuffer
	}
	if count > 0 {
		msg.Params = make([]value.Value, 0, count)
	}
	for i := uint32(0); i < count; i++ {
		p, err := r.value(0)
		if err != nil {
			return fmt.Errorf("BinaryCodec: param %d: %w", i+1, err)
		}
		msg.Params = append(msg.Params, p)
	}

	flagBuf, err := r.take(1)
	if err != nil {
		return err
	}
	flags := flagBuf[0]
	if flags&flagResult != 0 {
		if msg.Result, err = r.value(0); err != nil {
			return fmt.Errorf("BinaryCodec: result: %w", err)
		}
	}
	if flags&flagFault != 0 {
		code, err := r.u64()
		if err != nil {
			return err
		}
		text, err := r.bytes()
		if err != nil {
			return err
		}
		msg.Fault = message.NewFault(int(int64(code)), string(text))
	}
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

type writer struct {
	buf []byte
}

func (w *writer) raw(b []byte) { w.buf = append(w.buf, b...) }

func (w *writer) u16(n uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, n) }

func (w *writer) u32(n uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, n) }

func (w *writer) u64(n uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, n) }

func (w *writer) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.raw(b)
}

func (w *writer) value(v value.Value) error {
	if v == nil {
		return fmt.Errorf("%w: nil value", value.ErrUnsupported)
	}
	w.buf = append(w.buf, byte(v.Kind()))
	switch t := v.(type) {
	case value.Int:
		w.u64(uint64(t))
	case value.Double:
		w.u64(math.Float64bits(float64(t)))
	case value.Boolean:
		if t {
			w.buf = append(w.buf, 1)
		} else {
			w.buf = append(w.buf, 0)
		}
	case value.String:
		w.bytes([]byte(t))
	case value.Base64:
		w.bytes(t)
	case value.DateTime:
		b, err := t.Time().MarshalBinary()
		if err != nil {
			return err
		}
		w.bytes(b)
	case value.Array:
		w.u32(uint32(len(t)))
		for _, e := range t {
			if err := w.value(e); err != nil {
				return err
			}
		}
	case *value.Struct:
		w.u32(uint32(t.Len()))
		for k, e := range t.All() {
			w.bytes([]byte(k))
			if err := w.value(e); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: %T", value.ErrUnsupported, v)
	}
	return nil
}

type reader struct {
	data []byte
	off  int
}

func (r *reader) remaining() int { return len(r.data) - r.off }

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || n > r.remaining() {
		return nil, errShortBuffer
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *reader) bytes() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	return r.take(int(n))
}

func (r *reader) value(depth int) (value.Value, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("BinaryCodec: nesting exceeds %d levels", maxDepth)
	}
	kb, err := r.take(1)
	if err != nil {
		return nil, err
	}
	switch value.Kind(kb[0]) {
	case value.KindInt:
		n, err := r.u64()
		return value.Int(int64(n)), err
	case value.KindDouble:
		n, err := r.u64()
		return value.Double(math.Float64frombits(n)), err
	case value.KindBoolean:
		b, err := r.take(1)
		if err != nil {
			return nil, err
		}
		return value.Boolean(b[0] != 0), nil
	case value.KindString:
		b, err := r.bytes()
		return value.String(b), err
	case value.KindBase64:
		b, err := r.bytes()
		if err != nil {
			return nil, err
		}
		return value.Base64(append([]byte(nil), b...)), nil
	case value.KindDateTime:
		b, err := r.bytes()
		if err != nil {
			return nil, err
		}
		var t time.Time
		if err := t.UnmarshalBinary(b); err != nil {
			return nil, err
		}
		return value.DateTime(t), nil
	case value.KindArray:
		n, err := r.u32()
		if err != nil {
			return nil, err
		}
		if int(n) > r.remaining() {
			return nil, errShortBuffer
		}
		arr := make(value.Array, 0, n)
		for i := uint32(0); i < n; i++ {
			e, err := r.value(depth + 1)
			if err != nil {
				return nil, err
			}
			arr = append(arr, e)
		}
		return arr, nil
	case value.KindStruct:
		n, err := r.u32()
		if err != nil {
			return nil, err
		}
		if int(n) > r.remaining() {
			return nil, errShortBuffer
		}
		s := value.NewStruct()
		for i := uint32(0); i < n; i++ {
			k, err := r.bytes()
			if err != nil {
				return nil, err
			}
			e, err := r.value(depth + 1)
			if err != nil {
				return nil, err
			}
			s.Set(string(k), e)
		}
		return s, nil
	}
	return nil, fmt.Errorf("BinaryCodec: unknown value kind %d", kb[0])
}
