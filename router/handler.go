package router

import (
	"context"

	"jmtp/message"
)

type MessageFunc func(ctx context.Context, f *message.Frame)

type QueryFunc func(ctx context.Context, f *message.Frame) (any, error)

// HandlerFuncs adapts plain functions to a Handler. A nil Message drops
// messages; a nil Query answers every query with feature-not-implemented.
type HandlerFuncs struct {
	Message MessageFunc
	Query   QueryFunc
}

func (h HandlerFuncs) HandleMessage(ctx context.Context, f *message.Frame) {
	if h.Message != nil {
		h.Message(ctx, f)
	}
}

func (h HandlerFuncs) HandleQuery(ctx context.Context, f *message.Frame) (any, error) {
	if h.Query == nil {
		return nil, message.NewError(message.ErrorCancel, message.GroupFeatureNotImplemented, f.To+" does not answer queries")
	}
	return h.Query(ctx, f)
}
