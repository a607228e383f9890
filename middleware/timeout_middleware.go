package middleware

import (
	"context"
	"time"

	"jmtp/message"
)

// TimeOutMiddleware answers with wait/remote-server-timeout when the handler
// does not finish within timeout. The handler keeps running with a cancelled
// context; its late result is discarded.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, q *message.Frame) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type outcome struct {
				value any
				err   error
			}
			done := make(chan outcome, 1)
			go func() {
				value, err := next(ctx, q)
				done <- outcome{value, err}
			}()

			select {
			case out := <-done:
				return out.value, out.err
			case <-ctx.Done():
				return nil, message.NewError(message.ErrorWait, message.GroupRemoteServerTimeout, "query timed out")
			}
		}
	}
}
