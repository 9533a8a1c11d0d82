package demo

import (
	"context"

	"go.uber.org/zap"

	"dispatch-rpc/message"
	"dispatch-rpc/server"
	"dispatch-rpc/value"
)

// CodeTestException is the code tests.raiseException raises with, visible
// to clients only under direct error mapping.
const CodeTestException = 1

// testMethods exercise the dispatcher itself. The first two are registered
// without a signature on purpose.
func testMethods() []server.Method {
	return []server.Method{
		{Name: "tests.generateWarning", Handler: generateWarning},
		{Name: "tests.raiseException", Handler: raiseException},
		{Name: "tests.iso88591methodname.àüè", Handler: stringEcho, Signatures: sigs("string", "string"),
			Doc: "Accepts a string parameter, returns the string."},
	}
}

// generateWarning reports a diagnostic and still succeeds.
func generateWarning(ctx context.Context, req *message.Request) (message.Response, error) {
	server.Warn(ctx, "undefined variable", zap.String("variable", "undefinedVariable"))
	return success(value.Boolean(true))
}

func raiseException(ctx context.Context, req *message.Request) (message.Response, error) {
	return message.Response{}, message.Errorf(CodeTestException, "it's just a test")
}
