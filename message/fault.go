package message

import (
	"errors"
	"fmt"

	"dispatch-rpc/value"
)

// Fault codes. The numbering follows the XML-RPC toolkits the demo handlers
// were written against, so that existing clients keep recognising them.
const (
	CodeUnknownMethod      = 1
	CodeInvalidReturn      = 2
	CodeIncorrectParams    = 3
	CodeIntrospectUnknown  = 4
	CodeMulticallNotStruct = 9
	CodeMulticallNoMethod  = 10
	CodeMulticallNotString = 11
	CodeMulticallRecursion = 12
	CodeMulticallNoParams  = 13
	CodeMulticallNotArray  = 14
	CodeInvalidRequest     = 15
	CodeServerError        = 17
	CodeRateLimited        = 19

	// CodeUser is the first code available to application handlers.
	CodeUser = 800
)

// Fault is the two-field failure record: faultCode and faultString.
type Fault struct {
	Code   int
	String string
}

// NewFault builds a Fault, coercing a zero code to CodeServerError.
func NewFault(code int, msg string) *Fault {
	if code == 0 {
		code = CodeServerError
	}
	return &Fault{Code: code, String: msg}
}

// Faultf builds a Fault with a formatted message.
func Faultf(code int, format string, args ...any) *Fault {
	return NewFault(code, fmt.Sprintf(format, args...))
}

func (f *Fault) Error() string {
	return fmt.Sprintf("fault %d: %s", f.Code, f.String)
}

// FaultCode exposes the code to direct error mapping.
func (f *Fault) FaultCode() int { return f.Code }

// ToValue renders the fault as a struct with exactly faultCode and faultString.
func (f *Fault) ToValue() *value.Struct {
	return value.NewStruct(
		value.Member{Name: "faultCode", Value: value.Int(f.Code)},
		value.Member{Name: "faultString", Value: value.String(f.String)},
	)
}

var ErrNotAFault = errors.New("message: value is not a fault struct")

// FaultFromValue parses a fault struct.
func FaultFromValue(v value.Value) (*Fault, error) {
	s, ok := v.(*value.Struct)
	if !ok || s.Len() != 2 {
		return nil, ErrNotAFault
	}
	code, err := value.StructMember(s, "faultCode")
	if err != nil {
		return nil, ErrNotAFault
	}
	msg, err := value.StructMember(s, "faultString")
	if err != nil {
		return nil, ErrNotAFault
	}
	c, err := value.AsInt(code)
	if err != nil {
		return nil, ErrNotAFault
	}
	m, err := value.AsString(msg)
	if err != nil {
		return nil, ErrNotAFault
	}
	return &Fault{Code: int(c), String: m}, nil
}

// CodedError is implemented by errors that carry their own fault code.
type CodedError interface {
	error
	FaultCode() int
}

// Errorf builds an error carrying a fault code, for handlers that want to
// control the code reported under direct error mapping.
func Errorf(code int, format string, args ...any) error {
	return Faultf(code, format, args...)
}

// FromError maps an error to a fault response. An error carrying a non-zero
// fault code keeps it; anything else becomes CodeServerError. The message is
// the fault string for faults and err.Error() otherwise.
func FromError(err error) Response {
	var f *Fault
	if errors.As(err, &f) {
		return FaultResponse(f.Code, f.String)
	}
	var ce CodedError
	if errors.As(err, &ce) {
		return FaultResponse(ce.FaultCode(), err.Error())
	}
	return FaultResponse(CodeServerError, err.Error())
}

// ErrorMessage returns the text a fault built from err should carry.
func ErrorMessage(err error) string {
	var f *Fault
	if errors.As(err, &f) {
		return f.String
	}
	return err.Error()
}
