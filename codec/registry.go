package codec

import (
	"fmt"
	"reflect"
	"sync"

	log "github.com/sirupsen/logrus"
)

// DecodeFunc materializes a payload of one specific type tag.
type DecodeFunc func(c Codec, data []byte) (any, error)

// Registry maps custom type tags to decoders supplied by the application.
// Tags without a registered decoder decode as generic Object values.
//
// A nil *Registry is valid and knows only the builtin tags.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]DecodeFunc
}

func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]DecodeFunc)}
}

// Register installs fn for tag. It panics if tag is empty or builtin.
func (r *Registry) Register(tag string, fn DecodeFunc) {
	if tag == "" || IsBuiltinTag(tag) {
		panic(fmt.Sprintf("codec: cannot register decoder for tag %q", tag))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[tag] = fn
}

// RegisterType registers a decoder for T under T's type tag, and returns the
// tag. Decoded payloads are T values.
func RegisterType[T any](r *Registry) string {
	tag := TagOfType(reflect.TypeOf((*T)(nil)).Elem())
	r.Register(tag, func(c Codec, data []byte) (any, error) {
		var v T
		if err := c.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	})
	return tag
}

// Lookup returns the decoder registered for tag, if any.
func (r *Registry) Lookup(tag string) (DecodeFunc, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.decoders[tag]
	return fn, ok
}

// Decode materializes data according to tag.
func (r *Registry) Decode(c Codec, tag string, data []byte) (any, error) {
	switch tag {
	case TagNull:
		var v any
		if err := c.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return nil, nil
	case TagString:
		var s string
		if err := c.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return s, nil
	case TagObject:
		return decodeGeneric(c, data)
	}

	if fn, ok := r.Lookup(tag); ok {
		return fn(c, data)
	}
	log.WithField("tag", tag).Debug("no decoder registered for type tag, decoding as Object")
	return decodeGeneric(c, data)
}

func decodeGeneric(c Codec, data []byte) (any, error) {
	var v any
	if err := c.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
