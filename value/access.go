package value

import (
	"bytes"
	"fmt"
	"math"
)

// Scalar returns the native scalar held by v: int64, float64, bool, string,
// []byte or time.Time.
func Scalar(v Value) (any, error) {
	switch x := v.(type) {
	case Int:
		return int64(x), nil
	case Double:
		return float64(x), nil
	case Boolean:
		return bool(x), nil
	case String:
		return string(x), nil
	case Base64:
		return []byte(x), nil
	case DateTime:
		return x.Time(), nil
	}
	return nil, mismatch("scalar", v)
}

// ArraySize returns the number of elements of an Array.
func ArraySize(v Value) (int, error) {
	a, ok := v.(Array)
	if !ok {
		return 0, mismatch(KindArray.String(), v)
	}
	return a.Len(), nil
}

// ArrayElement returns element i of an Array.
func ArrayElement(v Value, i int) (Value, error) {
	a, ok := v.(Array)
	if !ok {
		return nil, mismatch(KindArray.String(), v)
	}
	return a.At(i)
}

// StructMember returns member key of a Struct. A missing key yields ErrNotFound.
func StructMember(v Value, key string) (Value, error) {
	s, ok := v.(*Struct)
	if !ok {
		return nil, mismatch(KindStruct.String(), v)
	}
	return s.Get(key)
}

// AsInt returns the integer held by v.
func AsInt(v Value) (int64, error) {
	i, ok := v.(Int)
	if !ok {
		return 0, mismatch(KindInt.String(), v)
	}
	return int64(i), nil
}

// AsDouble returns the float held by v. Ints are widened.
func AsDouble(v Value) (float64, error) {
	switch x := v.(type) {
	case Double:
		return float64(x), nil
	case Int:
		return float64(x), nil
	}
	return 0, mismatch(KindDouble.String(), v)
}

// AsString returns the string held by v.
func AsString(v Value) (string, error) {
	s, ok := v.(String)
	if !ok {
		return "", mismatch(KindString.String(), v)
	}
	return string(s), nil
}

// AsBool returns the boolean held by v.
func AsBool(v Value) (bool, error) {
	b, ok := v.(Boolean)
	if !ok {
		return false, mismatch(KindBoolean.String(), v)
	}
	return bool(b), nil
}

// KindOf is Kind() with nil mapped to KindInvalid.
func KindOf(v Value) Kind {
	if v == nil {
		return KindInvalid
	}
	return v.Kind()
}

func mismatch(want string, got Value) error {
	return fmt.Errorf("%w: want %s, got %s", ErrTypeMismatch, want, KindOf(got))
}

// Equal reports whether a and b have the same kind and content. Arrays compare
// element-wise in order and structs compare members in order.
func Equal(a, b Value) bool {
	if KindOf(a) != KindOf(b) {
		return false
	}
	switch x := a.(type) {
	case Int:
		return x == b.(Int)
	case Double:
		y := b.(Double)
		return x == y || (math.IsNaN(float64(x)) && math.IsNaN(float64(y)))
	case Boolean:
		return x == b.(Boolean)
	case String:
		return x == b.(String)
	case Base64:
		return bytes.Equal(x, b.(Base64))
	case DateTime:
		return x.Time().Equal(b.(DateTime).Time())
	case Array:
		y := b.(Array)
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case *Struct:
		y := b.(*Struct)
		if x.Len() != y.Len() {
			return false
		}
		yk := y.Keys()
		for i, k := range x.Keys() {
			if yk[i] != k {
				return false
			}
			xv, _ := x.Get(k)
			yv, _ := y.Get(k)
			if !Equal(xv, yv) {
				return false
			}
		}
		return true
	}
	return a == nil && b == nil
}
