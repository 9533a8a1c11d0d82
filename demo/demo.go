// Package demo holds the handlers served by cmd/demoserver: the examples.*
// set, the validator1 and interopEchoTests interop suites, mail.send, and a
// few tests.* methods that exercise the dispatcher's error paths.
package demo

import (
	"fmt"
	"slices"

	"go.uber.org/zap"

	"dispatch-rpc/message"
	"dispatch-rpc/server"
	"dispatch-rpc/signature"
	"dispatch-rpc/value"
)

// Toolkit identification reported by interopEchoTests.whichToolkit.
const (
	ToolkitName    = "dispatch-rpc"
	ToolkitVersion = "1.0.0"
	ToolkitDocsURL = "https://pkg.go.dev/dispatch-rpc"
)

type Options struct {
	// Mailer delivers mail.send messages. Defaults to a LogMailer.
	Mailer Mailer
	Logger *zap.Logger
}

// Register adds every demo method to svr.
func Register(svr *server.Server, opts Options) error {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Mailer == nil {
		opts.Mailer = NewLogMailer(opts.Logger)
	}

	methods := slices.Concat(
		exampleMethods(),
		validatorMethods(),
		interopMethods(),
		testMethods(),
		[]server.Method{mailMethod(opts.Mailer, opts.Logger)},
	)
	for _, m := range methods {
		if err := svr.Register(m); err != nil {
			return fmt.Errorf("register %s: %w", m.Name, err)
		}
	}
	return registerWrapped(svr)
}

func sigs(tags ...string) []signature.Signature {
	return []signature.Signature{signature.MustFromTags(tags...)}
}

func badParams(err error) (message.Response, error) {
	return message.FaultResponse(message.CodeIncorrectParams, err.Error()), nil
}

func userFault(format string, args ...any) (message.Response, error) {
	return message.FromFault(message.Faultf(message.CodeUser, format, args...)), nil
}

func success(v value.Value) (message.Response, error) {
	return message.Success(v), nil
}
