package wrapper

import (
	"context"
	"fmt"
	"reflect"

	"dispatch-rpc/message"
	"dispatch-rpc/middleware"
	"dispatch-rpc/signature"
	"dispatch-rpc/value"
)

// Wrapped is a native function adapted for registration.
type Wrapped struct {
	Name      string
	Signature signature.Signature
	Doc       string
	Handler   middleware.HandlerFunc
}

type options struct {
	name       string
	doc        string
	describer  Describer
	paramKinds []value.Kind
	returnKind value.Kind
}

type Option func(*options)

// WithName sets the method name the wrapped function will be registered under.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithDoc sets the documentation string.
func WithDoc(doc string) Option {
	return func(o *options) { o.doc = doc }
}

// WithDescriptor supplies an explicit descriptor. Its non-invalid kinds, Go
// types and doc take priority over what reflection finds; its arity must match
// the function's.
func WithDescriptor(d Describer) Option {
	return func(o *options) { o.describer = d }
}

// WithParamKinds declares parameter kinds explicitly, in order.
func WithParamKinds(kinds ...value.Kind) Option {
	return func(o *options) { o.paramKinds = kinds }
}

// WithReturnKind declares the return kind explicitly.
func WithReturnKind(k value.Kind) Option {
	return func(o *options) { o.returnKind = k }
}

// Wrap adapts fn into a handler plus a synthesized signature.
//
// fn may take a leading context.Context, which is not counted as a parameter,
// and must return T or (T, error). A returned error is handed to the
// dispatcher as a raised failure. Wrap returns ErrWrapFailure for anything
// else; callers treat that as "skip registration".
func Wrap(fn any, opts ...Option) (*Wrapped, error) {
	return wrapValue(reflect.ValueOf(fn), opts...)
}

func wrapValue(fn reflect.Value, opts ...Option) (*Wrapped, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	sh, err := inspect(fn)
	if err != nil {
		return nil, err
	}
	if err := sh.apply(o); err != nil {
		return nil, err
	}

	c := &call{fn: fn, shape: sh}
	return &Wrapped{
		Name:      o.name,
		Signature: sh.desc.Signature(),
		Doc:       sh.desc.Doc,
		Handler:   c.handle,
	}, nil
}

// apply merges explicit declarations over the reflected shape.
func (sh *shape) apply(o options) error {
	if o.describer != nil {
		d, err := o.describer.Describe()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrWrapFailure, err)
		}
		if len(d.Params) != len(sh.desc.Params) {
			return fmt.Errorf("%w: descriptor declares %d parameters, function takes %d",
				ErrWrapFailure, len(d.Params), len(sh.desc.Params))
		}
		for i, p := range d.Params {
			if p.Name != "" {
				sh.desc.Params[i].Name = p.Name
			}
			if p.Kind != value.KindInvalid {
				sh.desc.Params[i].Kind = p.Kind
			}
			if p.Type != nil {
				if !p.Type.AssignableTo(sh.desc.Params[i].Type) {
					return fmt.Errorf("%w: parameter %d type %s not assignable to %s",
						ErrWrapFailure, i+1, p.Type, sh.desc.Params[i].Type)
				}
				sh.desc.Params[i].Type = p.Type
			}
		}
		if d.Return != value.KindInvalid {
			sh.desc.Return = d.Return
		}
		if d.Doc != "" {
			sh.desc.Doc = d.Doc
		}
	}
	if o.paramKinds != nil {
		if len(o.paramKinds) != len(sh.desc.Params) {
			return fmt.Errorf("%w: %d parameter kinds declared, function takes %d",
				ErrWrapFailure, len(o.paramKinds), len(sh.desc.Params))
		}
		for i, k := range o.paramKinds {
			sh.desc.Params[i].Kind = k
		}
	}
	if o.returnKind != value.KindInvalid {
		sh.desc.Return = o.returnKind
	}
	if o.doc != "" {
		sh.desc.Doc = o.doc
	}
	return nil
}

type call struct {
	fn reflect.Value
	shape
}

func (c *call) handle(ctx context.Context, req *message.Request) (message.Response, error) {
	params := c.desc.Params
	if len(req.Params) != len(params) {
		return message.FaultResponse(message.CodeIncorrectParams,
			fmt.Sprintf("%s takes %d parameters, received %d", req.Method, len(params), len(req.Params))), nil
	}

	args := make([]reflect.Value, 0, len(params)+1)
	if c.withCtx {
		args = append(args, reflect.ValueOf(ctx))
	}
	for i, p := range params {
		ptr := reflect.New(p.Type)
		if err := value.DecodeInto(req.Params[i], ptr.Interface()); err != nil {
			return message.FaultResponse(message.CodeIncorrectParams,
				fmt.Sprintf("param %d: %v", i+1, err)), nil
		}
		args = append(args, ptr.Elem())
	}

	out := c.fn.Call(args)
	if c.withErr {
		if errv := out[1]; !errv.IsNil() {
			return message.Response{}, errv.Interface().(error)
		}
	}

	result := out[0]
	if resp, ok := result.Interface().(message.Response); ok {
		return resp, nil
	}
	v, err := value.Encode(result.Interface())
	if err != nil {
		return message.FaultResponse(message.CodeInvalidReturn,
			fmt.Sprintf("%s returned an unencodable result: %v", req.Method, err)), nil
	}
	return message.Success(v), nil
}
