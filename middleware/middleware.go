// Package middleware wraps RPC handlers with cross-cutting behavior.
//
// The same HandlerFunc shape is used on both ends: the server chains middleware around its
// dispatcher, the client chains middleware around the call that goes over the wire.
// Middleware that short-circuits a call answers with an error envelope, never with a bare
// error string, so the caller always sees one of the envelope kinds.
package middleware

import (
	"context"

	"envelope-rpc/message"
)

type HandlerFunc func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one. Chain(A, B, C)(h) runs A, then B, then C, then h.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
