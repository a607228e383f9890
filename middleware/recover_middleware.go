package middleware

import (
	"context"
	"fmt"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"jmtp/message"
)

// RecoverMiddleware turns a handler panic into cancel/internal-server-error
// so one broken handler does not take the process down.
func RecoverMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, q *message.Frame) (value any, err error) {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(log.Fields{
						"to":    q.To,
						"id":    q.ID,
						"panic": r,
						"stack": string(debug.Stack()),
					}).Error("query handler panicked")
					value, err = nil, message.NewError(message.ErrorCancel, message.GroupInternalServerError, fmt.Sprint(r))
				}
			}()
			return next(ctx, q)
		}
	}
}
