package wrapper

import (
	"fmt"
	"reflect"
)

// WrapMethod wraps the method called name bound to rcvr. The receiver is
// captured, so the handler always calls that instance.
func WrapMethod(rcvr any, name string, opts ...Option) (*Wrapped, error) {
	rv := reflect.ValueOf(rcvr)
	if !rv.IsValid() {
		return nil, fmt.Errorf("%w: nil receiver", ErrWrapFailure)
	}
	m := rv.MethodByName(name)
	if !m.IsValid() {
		return nil, fmt.Errorf("%w: %s has no exported method %s", ErrWrapFailure, rv.Type(), name)
	}
	return wrapValue(m, append([]Option{WithName(name)}, opts...)...)
}

// WrapService scans the exported methods of rcvr, which must be a pointer to
// a struct, and wraps every one it can. Methods are named prefix + "." +
// MethodName, or the struct type name is used when prefix is empty. Methods
// that cannot be wrapped are reported in skipped and left out.
func WrapService(rcvr any, prefix string) (wrapped []*Wrapped, skipped []error, err error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Pointer {
		return nil, nil, fmt.Errorf("%w: receiver must be a pointer, got %v", ErrWrapFailure, typ)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, nil, fmt.Errorf("%w: receiver must point to a struct, got %s", ErrWrapFailure, typ.Elem().Kind())
	}
	if prefix == "" {
		prefix = typ.Elem().Name()
	}

	rv := reflect.ValueOf(rcvr)
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		name := prefix + "." + method.Name
		w, err := wrapValue(rv.Method(i), WithName(name))
		if err != nil {
			skipped = append(skipped, fmt.Errorf("%s: %w", name, err))
			continue
		}
		wrapped = append(wrapped, w)
	}
	return wrapped, skipped, nil
}
