package middleware

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"jmtp/message"
)

type temporary interface {
	Temporary() bool
}

// IsTemporary reports whether err, or an error it wraps, says the same
// query may succeed later.
func IsTemporary(err error) bool {
	var t temporary
	return errors.As(err, &t) && t.Temporary()
}

// RetryMiddleware re-runs the handler on temporary failures, such as a
// forwarded query whose remote link closed or timed out, with exponential
// backoff starting at baseDelay.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, q *message.Frame) (any, error) {
			value, err := next(ctx, q)
			for i := 0; i < maxRetries && err != nil && IsTemporary(err); i++ {
				log.WithFields(log.Fields{
					"attempt": i + 1,
					"to":      q.To,
					"id":      q.ID,
					"err":     err,
				}).Info("retrying query")

				select {
				case <-time.After(baseDelay * time.Duration(1<<i)):
				case <-ctx.Done():
					return value, err
				}
				value, err = next(ctx, q)
			}
			return value, err
		}
	}
}
