// Package middleware provides the handler type shared by the dispatcher and
// its registered methods, and composable wrappers around it.
package middleware

import (
	"context"

	"dispatch-rpc/message"
)

// HandlerFunc handles one request. A returned error is a raised failure: the
// dispatcher converts it to a fault, or propagates it, according to its
// exception handling mode. Expected failures should be returned as fault
// Responses instead.
type HandlerFunc func(ctx context.Context, req *message.Request) (message.Response, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares into one. Chain(A, B, C)(h) is A(B(C(h))), so A
// sees the request first and the response last.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
