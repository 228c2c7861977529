// Package middleware wraps the dispatcher with cross-cutting behavior.
//
// Middlewares compose like an onion: Chain(A, B, C)(h) runs A, then B, then C
// before h, and unwinds in reverse. The server builds a fresh chain for every
// connection, so state created inside a Middleware (a rate limiter, say) is
// scoped to one connection.
package middleware

import (
	"context"

	"treemap/message"
)

// HandlerFunc turns one request into its response. It never returns nil.
type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one, outermost first.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// outcome is the metric and log label for a response: "ok" or the failure kind.
func outcome(resp *message.Response) string {
	if resp.OK || resp.Error == nil {
		return "ok"
	}
	return resp.Error.Kind
}
