package protocol

import (
	"bufio"
	"bytes"
	"io"
	"strconv"

	"github.com/pkg/errors"

	"jmtp/codec"
	"jmtp/message"
)

// Limits bounds the memory a single inbound frame may consume.
type Limits struct {
	MaxLineBytes  int // Longest header line (command, addresses, tag, id)
	MaxFrameBytes int // Longest payload section, error payload included
}

func DefaultLimits() Limits {
	return Limits{
		MaxLineBytes:  4 * 1024,
		MaxFrameBytes: 16 * 1024 * 1024,
	}
}

// Decoder reads frames from one stream. It is not safe for concurrent use:
// a stream has exactly one reader.
type Decoder struct {
	r      *bufio.Reader
	codec  codec.Codec
	types  *codec.Registry
	limits Limits
}

// NewDecoder returns a Decoder reading from r. Custom payload tags are
// resolved through types, which may be nil.
func NewDecoder(r io.Reader, c codec.Codec, types *codec.Registry, limits Limits) *Decoder {
	if limits.MaxLineBytes <= 0 || limits.MaxFrameBytes <= 0 {
		limits = DefaultLimits()
	}
	return &Decoder{
		r:      bufio.NewReaderSize(r, limits.MaxLineBytes),
		codec:  c,
		types:  types,
		limits: limits,
	}
}

// ReadFrame blocks until one complete frame is read. It returns io.EOF when
// the stream ends cleanly between frames, a *ProtocolError for malformed
// input, and a *ConnectionError for I/O failures. After any error the stream
// is unusable.
func (d *Decoder) ReadFrame() (*message.Frame, error) {
	start, err := d.r.ReadByte()
	if err == io.EOF {
		return nil, io.EOF
	} else if err != nil {
		return nil, &ConnectionError{Op: "read", Err: err}
	}
	if start != StartMarker {
		return nil, protocolErrorf(nil, "expected start marker, got 0x%02x", start)
	}

	name, err := d.readLine("command")
	if err != nil {
		return nil, err
	}
	cmd, ok := message.ParseCommand(name)
	if !ok {
		return nil, protocolErrorf(nil, "unknown command %q", name)
	}
	f := &message.Frame{Command: cmd}

	if f.To, err = d.readLine("to"); err != nil {
		return nil, err
	}
	if f.From, err = d.readLine("from"); err != nil {
		return nil, err
	}
	if f.TypeTag, err = d.readLine("type"); err != nil {
		return nil, err
	}
	if f.TypeTag == "" {
		return nil, protocolErrorf(nil, "empty type tag")
	}
	if cmd.HasID() {
		idLine, err := d.readLine("id")
		if err != nil {
			return nil, err
		}
		if f.ID, err = strconv.ParseUint(idLine, 10, 64); err != nil {
			return nil, protocolErrorf(err, "invalid correlation id %q", idLine)
		}
	}

	body, err := d.readBody()
	if err != nil {
		return nil, err
	}
	payload, errPayload, err := splitBody(body, cmd.HasError())
	if err != nil {
		return nil, err
	}

	if f.Payload, err = d.types.Decode(d.codec, f.TypeTag, payload); err != nil {
		return nil, protocolErrorf(err, "decode %s payload", f.TypeTag)
	}
	if errPayload != nil {
		f.Error = new(message.Error)
		if err := d.codec.Unmarshal(errPayload, f.Error); err != nil {
			return nil, protocolErrorf(err, "decode error payload")
		}
	}
	return f, nil
}

func (d *Decoder) readLine(field string) (string, error) {
	line, err := d.r.ReadSlice('\n')
	switch {
	case err == nil:
		return string(line[:len(line)-1]), nil
	case errors.Is(err, bufio.ErrBufferFull):
		return "", protocolErrorf(nil, "%s line exceeds %d bytes", field, d.limits.MaxLineBytes)
	case err == io.EOF:
		return "", protocolErrorf(io.ErrUnexpectedEOF, "truncated before %s line end", field)
	default:
		return "", &ConnectionError{Op: "read", Err: err}
	}
}

// readBody returns everything up to, not including, the end marker.
func (d *Decoder) readBody() ([]byte, error) {
	var body []byte
	for {
		chunk, err := d.r.ReadSlice(EndMarker)
		if len(body)+len(chunk) > d.limits.MaxFrameBytes+1 {
			return nil, protocolErrorf(nil, "frame exceeds %d bytes", d.limits.MaxFrameBytes)
		}
		body = append(body, chunk...)

		switch {
		case err == nil:
			return body[:len(body)-1], nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case err == io.EOF:
			return nil, protocolErrorf(io.ErrUnexpectedEOF, "missing end marker")
		default:
			return nil, &ConnectionError{Op: "read", Err: err}
		}
	}
}

// splitBody separates the payload from the optional error payload. The
// trailing newline after the error payload is optional on read.
func splitBody(body []byte, hasError bool) (payload, errPayload []byte, err error) {
	if !hasError {
		if len(body) == 0 {
			return nil, nil, protocolErrorf(nil, "missing payload")
		}
		return body, nil, nil
	}

	i := bytes.IndexByte(body, '\n')
	if i < 0 {
		return nil, nil, protocolErrorf(nil, "missing error payload")
	}
	payload, errPayload = body[:i], body[i+1:]
	errPayload = bytes.TrimSuffix(errPayload, []byte{'\n'})

	if len(payload) == 0 {
		return nil, nil, protocolErrorf(nil, "missing payload")
	}
	if len(errPayload) == 0 {
		return nil, nil, protocolErrorf(nil, "missing error payload")
	}
	if bytes.IndexByte(errPayload, '\n') >= 0 {
		return nil, nil, protocolErrorf(nil, "unexpected data after error payload")
	}
	return payload, errPayload, nil
}
