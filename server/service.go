package server

import (
	"go.uber.org/zap"

	"dispatch-rpc/signature"
	"dispatch-rpc/wrapper"
)

// RegisterWrapped registers a wrapped native function under w.Name.
func (svr *Server) RegisterWrapped(w *wrapper.Wrapped) error {
	return svr.Register(Method{
		Name:       w.Name,
		Handler:    w.Handler,
		Signatures: []signature.Signature{w.Signature},
		Doc:        w.Doc,
	})
}

// RegisterFunc wraps fn and registers it under name. A wrapper.ErrWrapFailure
// means fn was not registered; callers are expected to skip it, not abort.
func (svr *Server) RegisterFunc(name string, fn any, opts ...wrapper.Option) error {
	w, err := wrapper.Wrap(fn, append([]wrapper.Option{wrapper.WithName(name)}, opts...)...)
	if err != nil {
		return err
	}
	return svr.RegisterWrapped(w)
}

// RegisterMethod wraps the method name of rcvr and registers it under as.
func (svr *Server) RegisterMethod(as string, rcvr any, name string, opts ...wrapper.Option) error {
	w, err := wrapper.WrapMethod(rcvr, name, append(opts, wrapper.WithName(as))...)
	if err != nil {
		return err
	}
	return svr.RegisterWrapped(w)
}

// RegisterService registers every wrappable exported method of rcvr as
// prefix.Method. Methods that could not be wrapped are logged and returned in
// skipped.
func (svr *Server) RegisterService(rcvr any, prefix string) (skipped []error, err error) {
	wrapped, skipped, err := wrapper.WrapService(rcvr, prefix)
	if err != nil {
		return nil, err
	}
	for _, reason := range skipped {
		svr.logger.Info("method skipped", zap.Error(reason))
	}
	for _, w := range wrapped {
		if err := svr.RegisterWrapped(w); err != nil {
			return skipped, err
		}
	}
	return skipped, nil
}
