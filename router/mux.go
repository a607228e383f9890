package router

import (
	"context"
	"reflect"
	"sync"

	"jmtp/codec"
	"jmtp/message"
)

// Mux is a Handler dispatching on the payload's type tag. Each payload type
// an actor understands is registered explicitly with HandleQuery or
// HandleMessage; there is no method scanning.
//
//	mux := router.NewMux()
//	router.HandleQuery(mux, func(ctx context.Context, from string, p Ping) (any, error) {
//		return Pong{Seq: p.Seq}, nil
//	})
type Mux struct {
	mu       sync.RWMutex
	queries  map[string]QueryFunc
	messages map[string]MessageFunc
}

func NewMux() *Mux {
	return &Mux{
		queries:  make(map[string]QueryFunc),
		messages: make(map[string]MessageFunc),
	}
}

// HandleQuery registers fn for get and set frames whose payload is a T.
// The payload type must be decodable as T on this side, so custom types
// should be registered in the broker's codec.Registry too.
func HandleQuery[T any](m *Mux, fn func(ctx context.Context, from string, v T) (any, error)) {
	tag := codec.TagOfType(reflect.TypeOf((*T)(nil)).Elem())
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries[tag] = func(ctx context.Context, f *message.Frame) (any, error) {
		v, ok := payloadAs[T](f.Payload)
		if !ok {
			return nil, message.NewError(message.ErrorModify, message.GroupBadRequest, "unexpected payload for "+tag)
		}
		return fn(ctx, f.From, v)
	}
}

// HandleMessage registers fn for message frames whose payload is a T.
func HandleMessage[T any](m *Mux, fn func(ctx context.Context, from string, v T)) {
	tag := codec.TagOfType(reflect.TypeOf((*T)(nil)).Elem())
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[tag] = func(ctx context.Context, f *message.Frame) {
		if v, ok := payloadAs[T](f.Payload); ok {
			fn(ctx, f.From, v)
		}
	}
}

func (m *Mux) HandleMessage(ctx context.Context, f *message.Frame) {
	m.mu.RLock()
	fn, ok := m.messages[frameTag(f)]
	m.mu.RUnlock()
	if ok {
		fn(ctx, f)
	}
}

func (m *Mux) HandleQuery(ctx context.Context, f *message.Frame) (any, error) {
	tag := frameTag(f)
	m.mu.RLock()
	fn, ok := m.queries[tag]
	m.mu.RUnlock()
	if !ok {
		return nil, message.NewError(message.ErrorCancel, message.GroupFeatureNotImplemented, "no query handler for "+tag)
	}
	return fn(ctx, f)
}

func frameTag(f *message.Frame) string {
	if f.TypeTag != "" {
		return f.TypeTag
	}
	return codec.TagOf(f.Payload)
}

// payloadAs accepts both T and *T payloads.
func payloadAs[T any](payload any) (T, bool) {
	switch v := payload.(type) {
	case T:
		return v, true
	case *T:
		if v != nil {
			return *v, true
		}
	}
	var zero T
	return zero, false
}
