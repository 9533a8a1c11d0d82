// Package value implements the dynamically-typed value model exchanged by RPC calls.
//
// A Value is one of eight variants:
//
//	Int, Double, Boolean, String, Base64, DateTime  (scalars)
//	Array                                          (ordered sequence of Values)
//	*Struct                                        (ordered String→Value mapping, unique keys)
//
// Callers inspect a Value with a type switch over the variants, or with Kind().
// The accessor functions in access.go (Scalar, ArraySize, ArrayElement, StructMember)
// return ErrTypeMismatch when used against the wrong variant instead of panicking.
package value

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the type tag of a Value. Any is only meaningful inside signatures:
// no Value ever reports it.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt
	KindDouble
	KindBoolean
	KindString
	KindDateTime
	KindBase64
	KindArray
	KindStruct
	KindAny
)

var kindNames = [...]string{
	KindInvalid:  "invalid",
	KindInt:      "int",
	KindDouble:   "double",
	KindBoolean:  "boolean",
	KindString:   "string",
	KindDateTime: "datetime",
	KindBase64:   "base64",
	KindArray:    "array",
	KindStruct:   "struct",
	KindAny:      "any",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// IsScalar reports whether values of this kind carry a single scalar.
func (k Kind) IsScalar() bool {
	return k >= KindInt && k <= KindBase64
}

// ParseKind resolves a type tag. XML-RPC spellings are accepted as aliases.
func ParseKind(tag string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "int", "i4", "i8":
		return KindInt, nil
	case "double":
		return KindDouble, nil
	case "boolean", "bool":
		return KindBoolean, nil
	case "string":
		return KindString, nil
	case "datetime", "datetime.iso8601":
		return KindDateTime, nil
	case "base64":
		return KindBase64, nil
	case "array":
		return KindArray, nil
	case "struct":
		return KindStruct, nil
	case "any", "undefined", "value":
		return KindAny, nil
	}
	return KindInvalid, fmt.Errorf("%w: unknown type tag %q", ErrTypeMismatch, tag)
}

// Value is an RPC-transmissible datum.
type Value interface {
	Kind() Kind
	isValue()
}

type (
	Int      int64
	Double   float64
	Boolean  bool
	String   string
	Base64   []byte
	DateTime time.Time
	Array    []Value
)

func (Int) Kind() Kind      { return KindInt }
func (Double) Kind() Kind   { return KindDouble }
func (Boolean) Kind() Kind  { return KindBoolean }
func (String) Kind() Kind   { return KindString }
func (Base64) Kind() Kind   { return KindBase64 }
func (DateTime) Kind() Kind { return KindDateTime }
func (Array) Kind() Kind    { return KindArray }

func (Int) isValue()      {}
func (Double) isValue()   {}
func (Boolean) isValue()  {}
func (String) isValue()   {}
func (Base64) isValue()   {}
func (DateTime) isValue() {}
func (Array) isValue()    {}

// Time returns the wrapped time.
func (d DateTime) Time() time.Time { return time.Time(d) }

// Len returns the number of elements.
func (a Array) Len() int { return len(a) }

// At returns the element at index i.
func (a Array) At(i int) (Value, error) {
	if i < 0 || i >= len(a) {
		return nil, fmt.Errorf("%w: index %d, size %d", ErrIndexOutOfRange, i, len(a))
	}
	return a[i], nil
}

// Of is a convenience constructor for ad-hoc arrays.
func Of(elems ...Value) Array {
	return Array(elems)
}
