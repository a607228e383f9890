package codec

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// JSONCodec writes compact JSON with encoding/json. HTML characters are left
// unescaped, as peers write them. Numbers inside generic Object payloads
// decode as json.Number, keeping every digit.
type JSONCodec struct{}

func (c *JSONCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Encode terminates each value with a newline, which is a frame delimiter.
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

func (c *JSONCodec) Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("codec: trailing data after JSON value")
	}
	return nil
}

func (c *JSONCodec) Type() CodecType { return CodecTypeJSON }
