package server

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"dispatch-rpc/message"
	"dispatch-rpc/signature"
	"dispatch-rpc/value"
)

// HandlerError is returned by Dispatch in ExceptionRethrow mode. Transports
// must treat it as a fatal failure of the call, not as a fault.
type HandlerError struct {
	Method string
	Err    error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("method %s: %v", e.Method, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// PanicError is a recovered handler panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Dispatch resolves req against the registry, validates its params against
// the declared signatures and invokes the handler through the middleware
// chain.
//
// The returned error is non-nil only in ExceptionRethrow mode, when the
// handler raised an error; every other outcome is a Response.
func (svr *Server) Dispatch(ctx context.Context, req *message.Request) (message.Response, error) {
	c := callFrom(ctx)
	if c == nil {
		c = svr.newCall(req.Method)
		ctx = withCall(ctx, c)
	}
	if c.cfg.DebugLevel >= 1 {
		fields := []zap.Field{zap.String("method", req.Method), zap.Int("params", len(req.Params))}
		if c.cfg.DebugLevel >= 2 {
			fields = append(fields, zap.String("args", formatParams(req.Params)))
		}
		c.logger.Info("dispatch", fields...)
	}

	resp, err := svr.dispatch(ctx, c.cfg.ExceptionHandling, req)
	if err == nil && c.cfg.DebugLevel >= 3 {
		c.logger.Info("response", zap.String("method", req.Method), zap.String("result", formatResponse(resp)))
	}
	return resp, err
}

func (svr *Server) newCall(method string) *call {
	return &call{
		cfg:    svr.Config(),
		logger: svr.logger.With(zap.String("method", method)),
	}
}

// dispatch runs one call and applies the exception policy to whatever the
// chain raised. system.multicall re-enters here for each sub-call.
func (svr *Server) dispatch(ctx context.Context, mode ExceptionMode, req *message.Request) (message.Response, error) {
	resp, err := svr.chain()(ctx, req)
	if err == nil {
		return resp, nil
	}

	var he *HandlerError
	if errors.As(err, &he) {
		return message.Response{}, he
	}
	Logger(ctx).Error("handler raised an error", zap.String("method", req.Method), zap.Error(err))

	switch mode {
	case ExceptionDirect:
		return message.FromError(err), nil
	case ExceptionRethrow:
		return message.Response{}, &HandlerError{Method: req.Method, Err: err}
	default:
		return message.FaultResponse(message.CodeServerError, message.ErrorMessage(err)), nil
	}
}

// invoke is the innermost handler of the chain: lookup, signature check and
// the handler call itself, with panics folded into errors.
func (svr *Server) invoke(ctx context.Context, req *message.Request) (resp message.Response, err error) {
	m, ok := svr.methods.Lookup(req.Method)
	if !ok {
		return message.FaultResponse(message.CodeUnknownMethod,
			fmt.Sprintf("method %s not found", req.Method)), nil
	}
	if err := signature.Check(req.Params, m.Signatures); err != nil {
		return message.FaultResponse(message.CodeIncorrectParams, err.Error()), nil
	}

	defer func() {
		if r := recover(); r != nil {
			resp, err = message.Response{}, &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	resp, err = m.Handler(ctx, req)
	if err != nil {
		return message.Response{}, err
	}
	if resp.IsZero() {
		return message.FaultResponse(message.CodeInvalidReturn,
			fmt.Sprintf("method %s returned neither a value nor a fault", req.Method)), nil
	}
	return resp, nil
}

func formatParams(params []value.Value) string {
	return value.Format(value.Array(params))
}

func formatResponse(resp message.Response) string {
	if f, ok := resp.Fault(); ok {
		return f.Error()
	}
	v, _ := resp.Value()
	return value.Format(v)
}
