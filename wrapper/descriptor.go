// Package wrapper adapts native Go functions into dispatcher handlers.
//
// The shape of a wrapped function is described by a Descriptor: one Param per
// positional argument plus the return kind. Reflect infers a Descriptor from
// the function's Go type; callers that cannot or prefer not to rely on that
// supply their own Descriptor, or override single kinds, through options.
//
//	w, err := wrapper.Wrap(func(a, b int) int { return a + b }, wrapper.WithName("examples.add"))
//	// w.Signature is int(int, int); w.Handler decodes params, calls, encodes the result.
package wrapper

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"dispatch-rpc/signature"
	"dispatch-rpc/value"
)

// ErrWrapFailure is returned when a target has no fixed, introspectable arity
// or uses types that cannot be carried by a Value. Callers skip registration.
var ErrWrapFailure = errors.New("wrapper: cannot wrap")

// Param describes one positional parameter.
type Param struct {
	Name string
	Kind value.Kind
	// Type is the Go type the Value is decoded into. Manual descriptors may
	// leave it nil to keep the type found on the function.
	Type reflect.Type
}

// Descriptor describes a callable's parameters and result.
type Descriptor struct {
	Params []Param
	Return value.Kind
	Doc    string
}

// Describer supplies a Descriptor. Descriptor itself is a Describer, which is
// how callers provide descriptors by hand.
type Describer interface {
	Describe() (Descriptor, error)
}

func (d Descriptor) Describe() (Descriptor, error) { return d, nil }

// Signature returns the call shape the descriptor declares.
func (d Descriptor) Signature() signature.Signature {
	kinds := make([]value.Kind, len(d.Params))
	for i, p := range d.Params {
		kinds[i] = p.Kind
	}
	return signature.New(d.Return, kinds...)
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	valueType   = reflect.TypeOf((*value.Value)(nil)).Elem()
	timeType    = reflect.TypeOf(time.Time{})
	fieldsType  = reflect.TypeOf(value.Fields(nil))
)

// Reflect infers a Descriptor from fn's Go type.
func Reflect(fn any) Describer {
	return reflectDescriber{fn: reflect.ValueOf(fn)}
}

type reflectDescriber struct {
	fn reflect.Value
}

func (r reflectDescriber) Describe() (Descriptor, error) {
	sh, err := inspect(r.fn)
	if err != nil {
		return Descriptor{}, err
	}
	return sh.desc, nil
}

// shape is what Wrap needs to call fn positionally.
type shape struct {
	desc    Descriptor
	withCtx bool
	withErr bool
}

func inspect(fn reflect.Value) (shape, error) {
	if !fn.IsValid() || fn.Kind() != reflect.Func || fn.IsNil() {
		return shape{}, fmt.Errorf("%w: not a function", ErrWrapFailure)
	}
	ft := fn.Type()
	if ft.IsVariadic() {
		return shape{}, fmt.Errorf("%w: variadic %s has no fixed arity", ErrWrapFailure, ft)
	}

	var sh shape
	first := 0
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		sh.withCtx = true
		first = 1
	}
	for i := first; i < ft.NumIn(); i++ {
		pt := ft.In(i)
		k := KindOf(pt)
		if k == value.KindInvalid {
			return shape{}, fmt.Errorf("%w: parameter %d has unsupported type %s", ErrWrapFailure, i-first+1, pt)
		}
		sh.desc.Params = append(sh.desc.Params, Param{
			Name: fmt.Sprintf("p%d", i-first+1),
			Kind: k,
			Type: pt,
		})
	}

	switch {
	case ft.NumOut() == 1 && ft.Out(0) != errorType:
	case ft.NumOut() == 2 && ft.Out(1) == errorType:
		sh.withErr = true
	default:
		return shape{}, fmt.Errorf("%w: %s must return T or (T, error)", ErrWrapFailure, ft)
	}
	rk := KindOf(ft.Out(0))
	if rk == value.KindInvalid {
		return shape{}, fmt.Errorf("%w: unsupported result type %s", ErrWrapFailure, ft.Out(0))
	}
	sh.desc.Return = rk
	return sh, nil
}

// KindOf maps a Go type to the Value kind it encodes to. Types whose kind is
// only known at run time (interfaces) map to Any; types no Value can carry map
// to KindInvalid.
func KindOf(t reflect.Type) value.Kind {
	if t.Kind() == reflect.Interface {
		return value.KindAny
	}
	if t.Implements(valueType) {
		return reflect.Zero(t).Interface().(value.Value).Kind()
	}
	switch t {
	case timeType:
		return value.KindDateTime
	case fieldsType:
		return value.KindStruct
	}
	switch t.Kind() {
	case reflect.Bool:
		return value.KindBoolean
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return value.KindInt
	case reflect.Float32, reflect.Float64:
		return value.KindDouble
	case reflect.String:
		return value.KindString
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return value.KindBase64
		}
		return value.KindArray
	case reflect.Map:
		if t.Key().Kind() == reflect.String {
			return value.KindStruct
		}
	case reflect.Struct:
		return value.KindStruct
	case reflect.Pointer:
		return KindOf(t.Elem())
	}
	return value.KindInvalid
}
