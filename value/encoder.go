package value

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Field is one entry of an ordered native struct.
type Field struct {
	Name  string
	Value any
}

// Fields is the order-preserving native form of a Struct.
type Fields []Field

// Get returns the value of the first field called name.
func (f Fields) Get(name string) (any, bool) {
	for _, fld := range f {
		if fld.Name == name {
			return fld.Value, true
		}
	}
	return nil, false
}

var (
	valueType  = reflect.TypeOf((*Value)(nil)).Elem()
	timeType   = reflect.TypeOf(time.Time{})
	fieldsType = reflect.TypeOf(Fields(nil))
)

// Encode converts native Go data into a Value.
//
// Supported inputs: Values (passed through), bool, integers, floats, string,
// []byte (Base64), time.Time (DateTime), slices and arrays (Array), Fields,
// map[string]T (Struct with sorted keys) and structs (Struct in field order,
// honouring `rpc:"name,omitempty"` tags; "-" skips a field).
func Encode(native any) (Value, error) {
	if native == nil {
		return nil, fmt.Errorf("%w: nil", ErrUnsupported)
	}
	return encode(reflect.ValueOf(native))
}

// MustEncode is Encode for literals known to be encodable.
func MustEncode(native any) Value {
	v, err := Encode(native)
	if err != nil {
		panic(err)
	}
	return v
}

func encode(rv reflect.Value) (Value, error) {
	if !rv.IsValid() {
		return nil, fmt.Errorf("%w: nil", ErrUnsupported)
	}
	t := rv.Type()
	if (rv.Kind() == reflect.Interface || rv.Kind() == reflect.Pointer) && rv.IsNil() {
		return nil, fmt.Errorf("%w: nil %s", ErrUnsupported, t)
	}
	if t.Implements(valueType) && rv.CanInterface() {
		return rv.Interface().(Value), nil
	}

	switch t {
	case timeType:
		return DateTime(rv.Interface().(time.Time)), nil
	case fieldsType:
		s := NewStruct()
		for _, f := range rv.Interface().(Fields) {
			ev, err := Encode(f.Value)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			s.Set(f.Name, ev)
		}
		return s, nil
	}

	switch rv.Kind() {
	case reflect.Interface, reflect.Pointer:
		return encode(rv.Elem())
	case reflect.Bool:
		return Boolean(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int", ErrUnsupported, u)
		}
		return Int(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		return Double(rv.Float()), nil
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return Base64(b), nil
		}
		arr := make(Array, rv.Len())
		for i := range arr {
			ev, err := encode(rv.Index(i))
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			arr[i] = ev
		}
		return arr, nil
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: map key %s", ErrUnsupported, t.Key())
		}
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		s := NewStruct()
		for _, k := range keys {
			ev, err := encode(rv.MapIndex(k))
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k.String(), err)
			}
			s.Set(k.String(), ev)
		}
		return s, nil
	case reflect.Struct:
		return encodeStruct(rv)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, t)
}

func encodeStruct(rv reflect.Value) (Value, error) {
	t := rv.Type()
	s := NewStruct()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name, omitEmpty := sf.Name, false
		if tag, ok := sf.Tag.Lookup("rpc"); ok {
			if tag == "-" {
				continue
			}
			parts := strings.Split(tag, ",")
			if parts[0] != "" {
				name = parts[0]
			}
			for _, opt := range parts[1:] {
				omitEmpty = omitEmpty || opt == "omitempty"
			}
		}
		fv := rv.Field(i)
		if omitEmpty && fv.IsZero() {
			continue
		}
		ev, err := encode(fv)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", sf.Name, err)
		}
		s.Set(name, ev)
	}
	return s, nil
}

// Decoder converts Values to plain Go data.
//
// Scalars become int64, float64, bool, string, []byte and time.Time; arrays
// become []any. Structs become Fields, keeping member order, unless Maps is
// set, in which case they become map[string]any.
type Decoder struct {
	Maps bool
}

// Decode converts v using the order-preserving Decoder.
func Decode(v Value) any {
	return Decoder{}.Decode(v)
}

func (d Decoder) Decode(v Value) any {
	switch x := v.(type) {
	case Int:
		return int64(x)
	case Double:
		return float64(x)
	case Boolean:
		return bool(x)
	case String:
		return string(x)
	case Base64:
		b := make([]byte, len(x))
		copy(b, x)
		return b
	case DateTime:
		return x.Time()
	case Array:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = d.Decode(e)
		}
		return out
	case *Struct:
		if d.Maps {
			out := make(map[string]any, x.Len())
			for k, e := range x.All() {
				out[k] = d.Decode(e)
			}
			return out
		}
		out := make(Fields, 0, x.Len())
		for k, e := range x.All() {
			out = append(out, Field{Name: k, Value: d.Decode(e)})
		}
		return out
	}
	return nil
}

// DecodeInto stores v into the Go value target points to.
//
// Targets of Value type (or one of its variants) receive v unchanged, empty
// interfaces receive Decode(v), and anything else is filled through
// mapstructure using `rpc` field tags.
func DecodeInto(v Value, target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("%w: target must be a non-nil pointer", ErrUnsupported)
	}
	if v == nil {
		return fmt.Errorf("%w: nil value", ErrTypeMismatch)
	}
	out := rv.Elem()
	t := out.Type()

	if t.Kind() == reflect.Interface && t.NumMethod() == 0 {
		native := Decode(v)
		out.Set(reflect.ValueOf(native))
		return nil
	}
	if vt := reflect.TypeOf(v); vt.AssignableTo(t) {
		out.Set(reflect.ValueOf(v))
		return nil
	}
	if t.Implements(valueType) {
		return mismatch(t.String(), v)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     target,
		TagName:    "rpc",
		DecodeHook: mapstructure.DecodeHookFuncType(rangeCheck),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(Decoder{Maps: true}.Decode(v)); err != nil {
		return fmt.Errorf("%w: %v", ErrTypeMismatch, err)
	}
	return nil
}

// rangeCheck rejects numbers that do not fit the Go type they are decoded
// into, at any depth. mapstructure itself truncates them silently.
func rangeCheck(from, to reflect.Type, data any) (any, error) {
	target := reflect.New(to).Elem()
	switch n := data.(type) {
	case int64:
		switch to.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
			if target.OverflowInt(n) {
				return nil, fmt.Errorf("%d does not fit %s", n, to)
			}
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			if n < 0 || target.OverflowUint(uint64(n)) {
				return nil, fmt.Errorf("%d does not fit %s", n, to)
			}
		}
	case float64:
		if to.Kind() == reflect.Float32 && target.OverflowFloat(n) {
			return nil, fmt.Errorf("%g does not fit %s", n, to)
		}
	}
	return data, nil
}
