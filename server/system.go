package server

import (
	"context"
	"fmt"

	"dispatch-rpc/message"
	"dispatch-rpc/signature"
	"dispatch-rpc/value"
)

const multicallName = "system.multicall"

func (svr *Server) registerSystemMethods() {
	sig := signature.MustFromTags
	for _, m := range []Method{
		{
			Name:       "system.listMethods",
			Handler:    svr.listMethods,
			Signatures: []signature.Signature{sig("array")},
			Doc:        "This method lists all the methods that the server knows how to dispatch",
		},
		{
			Name:       "system.methodSignature",
			Handler:    svr.methodSignature,
			Signatures: []signature.Signature{sig("array", "string")},
			Doc:        "Returns an array of known signatures (an array of arrays) for the method name passed. If no signatures are known, returns a none-array (test for type != array to detect missing signature)",
		},
		{
			Name:       "system.methodHelp",
			Handler:    svr.methodHelp,
			Signatures: []signature.Signature{sig("string", "string")},
			Doc:        "Returns help text if defined for the method passed, otherwise returns an empty string",
		},
		{
			Name:       "system.getCapabilities",
			Handler:    svr.getCapabilities,
			Signatures: []signature.Signature{sig("struct")},
			Doc:        "This method lists all the capabilities that the server has: the (more or less standard) extensions to the xmlrpc spec that it adheres to",
		},
		{
			Name:       multicallName,
			Handler:    svr.multicall,
			Signatures: []signature.Signature{sig("array", "array")},
			Doc:        "Boxcar multiple RPC calls in one request. See http://www.xmlrpc.com/discuss/msgReader$1208 for details",
		},
	} {
		// names are fixed and handlers set, so this cannot fail
		_ = svr.methods.Register(m)
	}
}

func (svr *Server) listMethods(ctx context.Context, req *message.Request) (message.Response, error) {
	names := svr.methods.Names()
	arr := make(value.Array, len(names))
	for i, n := range names {
		arr[i] = value.String(n)
	}
	return message.Success(arr), nil
}

func (svr *Server) lookupParam(req *message.Request) (*Method, *message.Response) {
	name, _ := value.AsString(req.Params[0])
	m, ok := svr.methods.Lookup(name)
	if !ok {
		f := message.FaultResponse(message.CodeIntrospectUnknown, "No method "+name+" defined")
		return nil, &f
	}
	return m, nil
}

func (svr *Server) methodSignature(ctx context.Context, req *message.Request) (message.Response, error) {
	m, fault := svr.lookupParam(req)
	if fault != nil {
		return *fault, nil
	}
	if len(m.Signatures) == 0 {
		return message.Success(value.String("undef")), nil
	}
	sigs := make(value.Array, len(m.Signatures))
	for i, s := range m.Signatures {
		tags := s.Tags()
		arr := make(value.Array, len(tags))
		for j, t := range tags {
			arr[j] = value.String(t)
		}
		sigs[i] = arr
	}
	return message.Success(sigs), nil
}

func (svr *Server) methodHelp(ctx context.Context, req *message.Request) (message.Response, error) {
	m, fault := svr.lookupParam(req)
	if fault != nil {
		return *fault, nil
	}
	return message.Success(value.String(m.Doc)), nil
}

func capability(url string, version int) value.Value {
	return value.NewStruct(
		value.Member{Name: "specUrl", Value: value.String(url)},
		value.Member{Name: "specVersion", Value: value.Int(version)},
	)
}

func (svr *Server) getCapabilities(ctx context.Context, req *message.Request) (message.Response, error) {
	return message.Success(value.NewStruct(
		value.Member{Name: "xmlrpc", Value: capability("http://www.xmlrpc.com/spec", 1)},
		value.Member{Name: "json-rpc", Value: capability("https://www.jsonrpc.org/specification", 2)},
		value.Member{Name: "system.multicall", Value: capability("http://www.xmlrpc.com/discuss/msgReader$1208", 1)},
		value.Member{Name: "introspection", Value: capability("http://phpxmlrpc.sourceforge.net/doc-2/ch10.html", 2)},
		value.Member{Name: "faults_interop", Value: capability("http://xmlrpc-epi.sourceforge.net/specs/rfc.fault_codes.php", 20010516)},
	)), nil
}

// multicall runs each {methodName, params} struct of its single array param
// and returns one entry per call: a one-element array holding the result, or
// the fault struct. In rethrow mode a raised error aborts the whole batch.
func (svr *Server) multicall(ctx context.Context, req *message.Request) (message.Response, error) {
	calls := req.Params[0].(value.Array)
	mode := ExceptionFault
	if c := callFrom(ctx); c != nil {
		mode = c.cfg.ExceptionHandling
	}

	results := make(value.Array, 0, len(calls))
	for _, v := range calls {
		sub, fault := parseSubCall(v)
		if fault != nil {
			results = append(results, fault.ToValue())
			continue
		}
		resp, err := svr.dispatch(ctx, mode, sub)
		if err != nil {
			return message.Response{}, err
		}
		if f, ok := resp.Fault(); ok {
			results = append(results, f.ToValue())
		} else {
			r, _ := resp.Value()
			results = append(results, value.Of(r))
		}
	}
	return message.Success(results), nil
}

func parseSubCall(v value.Value) (*message.Request, *message.Fault) {
	s, ok := v.(*value.Struct)
	if !ok {
		return nil, message.NewFault(message.CodeMulticallNotStruct, "system.multicall expected struct")
	}
	nameVal, err := s.Get("methodName")
	if err != nil {
		return nil, message.NewFault(message.CodeMulticallNoMethod, "missing methodName")
	}
	name, err := value.AsString(nameVal)
	if err != nil {
		return nil, message.NewFault(message.CodeMulticallNotString, "methodName is not a string")
	}
	if name == multicallName {
		return nil, message.NewFault(message.CodeMulticallRecursion, "recursive system.multicall forbidden")
	}
	paramsVal, err := s.Get("params")
	if err != nil {
		return nil, message.NewFault(message.CodeMulticallNoParams, "missing params")
	}
	params, ok := paramsVal.(value.Array)
	if !ok {
		return nil, message.NewFault(message.CodeMulticallNotArray, fmt.Sprintf("params is not an array (got %s)", paramsVal.Kind()))
	}
	return message.NewRequest(name, params...), nil
}
