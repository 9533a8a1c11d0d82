// Package message defines the request, response and fault types exchanged
// between transports and the dispatcher, and the RPCMessage envelope used on
// the framed TCP transport.
//
//   - Request:  method name plus ordered positional Values, created per call by a transport.
//   - Response: either a success Value or a Fault, never both.
//   - RPCMessage: the serialized form of a Request (Method, Params) or a
//     Response (Result or Fault) as it travels through a codec.
package message

import (
	"dispatch-rpc/value"
)

// Request is one decoded call.
type Request struct {
	Method string
	Params []value.Value
}

// NewRequest builds a Request.
func NewRequest(method string, params ...value.Value) *Request {
	return &Request{Method: method, Params: params}
}

// Param returns the i-th parameter, failing with value.ErrIndexOutOfRange.
func (r *Request) Param(i int) (value.Value, error) {
	return value.Array(r.Params).At(i)
}

// Response is the outcome of a call: Success(Value) or Fault(code, message).
// The zero Response is neither and is treated as an invalid handler return.
type Response struct {
	val   value.Value
	fault *Fault
}

// Success wraps v as a successful response.
func Success(v value.Value) Response {
	return Response{val: v}
}

// FaultResponse builds a fault response. A zero code is replaced with
// CodeServerError so that a fault always carries a non-zero code.
func FaultResponse(code int, msg string) Response {
	return Response{fault: NewFault(code, msg)}
}

// FromFault wraps an existing fault.
func FromFault(f *Fault) Response {
	if f.Code == 0 {
		f = NewFault(f.Code, f.String)
	}
	return Response{fault: f}
}

// IsFault reports whether the response carries a fault.
func (r Response) IsFault() bool { return r.fault != nil }

// IsZero reports whether the response carries neither a value nor a fault.
func (r Response) IsZero() bool { return r.fault == nil && r.val == nil }

// Value returns the success value, if any.
func (r Response) Value() (value.Value, bool) {
	if r.fault != nil || r.val == nil {
		return nil, false
	}
	return r.val, true
}

// Fault returns the fault, if any.
func (r Response) Fault() (*Fault, bool) {
	return r.fault, r.fault != nil
}

// RPCMessage carries a request or a response through a codec.
//
//   - On request:  Method and Params are set.
//   - On response: Result is set on success, Fault on failure.
type RPCMessage struct {
	Method string
	Params []value.Value
	Result value.Value
	Fault  *Fault
}

// RequestMessage converts a Request into its envelope.
func RequestMessage(req *Request) *RPCMessage {
	return &RPCMessage{Method: req.Method, Params: req.Params}
}

// ResponseMessage converts a Response into its envelope.
func ResponseMessage(method string, resp Response) *RPCMessage {
	msg := &RPCMessage{Method: method}
	if f, ok := resp.Fault(); ok {
		msg.Fault = f
	} else if v, ok := resp.Value(); ok {
		msg.Result = v
	}
	return msg
}

// Request extracts the call carried by the envelope.
func (m *RPCMessage) Request() *Request {
	return &Request{Method: m.Method, Params: m.Params}
}

// Response extracts the outcome carried by the envelope.
func (m *RPCMessage) Response() Response {
	if m.Fault != nil {
		return FromFault(m.Fault)
	}
	return Success(m.Result)
}
