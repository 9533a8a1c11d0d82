package demo

import (
	"context"
	"runtime"

	"dispatch-rpc/message"
	"dispatch-rpc/server"
	"dispatch-rpc/value"
)

// interopEchoes lists the interopEchoTests echo methods: name, type tag of
// the echoed param and doc.
var interopEchoes = []struct{ name, tag, doc string }{
	{"echoString", "string", "Echoes string."},
	{"echoStringArray", "array", "Echoes string array."},
	{"echoInteger", "int", "Echoes integer."},
	{"echoIntegerArray", "array", "Echoes integer array."},
	{"echoFloat", "double", "Echoes float."},
	{"echoFloatArray", "array", "Echoes float array."},
	{"echoStruct", "struct", "Echoes struct."},
	{"echoStructArray", "array", "Echoes struct array."},
	{"echoValue", "any", "Echoes any value back."},
	{"echoBase64", "base64", "Echoes base64."},
	{"echoDate", "dateTime.iso8601", "Echoes dateTime."},
}

func interopMethods() []server.Method {
	methods := make([]server.Method, 0, len(interopEchoes)+1)
	for _, e := range interopEchoes {
		methods = append(methods, server.Method{
			Name:       "interopEchoTests." + e.name,
			Handler:    echoParam,
			Signatures: sigs(e.tag, e.tag),
			Doc:        e.doc,
		})
	}
	return append(methods, server.Method{
		Name:       "interopEchoTests.whichToolkit",
		Handler:    whichToolkit,
		Signatures: sigs("struct"),
		Doc:        "Returns a struct containing the following strings: toolkitDocsUrl, toolkitName, toolkitVersion, toolkitOperatingSystem.",
	})
}

func echoParam(ctx context.Context, req *message.Request) (message.Response, error) {
	return success(req.Params[0])
}

func whichToolkit(ctx context.Context, req *message.Request) (message.Response, error) {
	return success(value.NewStruct(
		value.Member{Name: "toolkitDocsUrl", Value: value.String(ToolkitDocsURL)},
		value.Member{Name: "toolkitName", Value: value.String(ToolkitName)},
		value.Member{Name: "toolkitVersion", Value: value.String(ToolkitVersion)},
		value.Member{Name: "toolkitOperatingSystem", Value: value.String(runtime.GOOS + "/" + runtime.GOARCH)},
	))
}
