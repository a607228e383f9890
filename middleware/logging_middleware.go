package middleware

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"jmtp/message"
)

func LoggingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, q *message.Frame) (any, error) {
			start := time.Now()
			value, err := next(ctx, q)

			entry := log.WithFields(log.Fields{
				"command":  q.Command.String(),
				"id":       q.ID,
				"to":       q.To,
				"from":     q.From,
				"duration": time.Since(start),
			})
			if err != nil {
				entry.WithField("err", err).Info("query failed")
			} else {
				entry.Debug("query served")
			}
			return value, err
		}
	}
}
