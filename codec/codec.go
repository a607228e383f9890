// Package codec serializes frame payloads.
//
// A Codec turns one application value into bytes and back. The protocol layer
// places each marshaled value between fixed boundaries (a newline before the
// error payload, the 0xFF end marker after the last one), so every codec must
// honour one framing contract: a single marshaled value never contains a raw
// '\n' or a 0xFF byte. Both JSON codecs here satisfy it: control characters
// are escaped and UTF-8 text never contains 0xFF.
package codec

import "fmt"

type CodecType byte

const (
	CodecTypeJSON     CodecType = 0
	CodecTypeJSONIter CodecType = 1
)

type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Type() CodecType
}

// GetCodec returns the codec for codecType, falling back to JSON.
func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSONIter {
		return &JSONIterCodec{}
	}
	return &JSONCodec{}
}

// ParseCodecType maps a codec name ("json", "jsoniter") to its CodecType.
func ParseCodecType(name string) (CodecType, error) {
	switch name {
	case "", "json":
		return CodecTypeJSON, nil
	case "jsoniter":
		return CodecTypeJSONIter, nil
	default:
		return 0, fmt.Errorf("codec: unknown codec %q", name)
	}
}

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeJSONIter:
		return "jsoniter"
	default:
		return fmt.Sprintf("codec(%d)", byte(t))
	}
}
