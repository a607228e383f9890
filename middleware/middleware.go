// Package middleware wraps the handlers that answer inbound queries.
//
// Chain(A, B, C)(handler) builds A(B(C(handler))): A runs first on the way
// in and last on the way out.
package middleware

import (
	"context"

	"jmtp/message"
)

// HandlerFunc answers one get or set frame. A *message.Error return is sent
// back to the querier as an application error.
type HandlerFunc func(ctx context.Context, q *message.Frame) (any, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
