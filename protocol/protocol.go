// Package protocol implements the JMTP frame protocol: a hybrid text/binary
// wire format multiplexing messages and queries over one duplex byte stream.
//
// Frame format (symmetric in both directions):
//
//	0x00                     start marker
//	<command>\n              message | message_error | get | set | result | query_error
//	<to>\n                   destination address
//	<from>\n                 source address
//	<type-tag>\n             null | String | Object | qualified type name
//	[<id>\n]                 decimal correlation id, query frames only
//	<payload>                one codec-marshaled value
//	[\n<error>\n]            application error, error frames only
//	0xFF                     end marker
//
// Payload framing is delegated to the codec, which guarantees that a marshaled
// value never contains '\n' or 0xFF.
package protocol

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"jmtp/codec"
	"jmtp/message"
)

const (
	StartMarker byte = 0x00
	EndMarker   byte = 0xFF
)

// EncodeFrame serializes f into one complete frame. The type tag is derived
// from f.Payload; f.TypeTag is ignored.
func EncodeFrame(c codec.Codec, f *message.Frame) ([]byte, error) {
	name := f.Command.String()
	if _, ok := message.ParseCommand(name); !ok {
		return nil, errors.Errorf("protocol: cannot encode unknown command %d", byte(f.Command))
	}
	tag := codec.TagOf(f.Payload)
	for _, field := range []string{f.To, f.From, tag} {
		if strings.IndexByte(field, '\n') >= 0 || strings.IndexByte(field, EndMarker) >= 0 {
			return nil, errors.Wrapf(ErrUnframeable, "header field %q", field)
		}
	}

	payload, err := marshal(c, f.Payload)
	if err != nil {
		return nil, err
	}
	var errPayload []byte
	if f.Command.HasError() {
		if f.Error == nil {
			return nil, errors.Errorf("protocol: %s frame without an error payload", f.Command)
		}
		if errPayload, err = marshal(c, f.Error); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	buf.Grow(len(name) + len(f.To) + len(f.From) + len(tag) + len(payload) + len(errPayload) + 32)

	buf.WriteByte(StartMarker)
	writeLine(&buf, name)
	writeLine(&buf, f.To)
	writeLine(&buf, f.From)
	writeLine(&buf, tag)
	if f.Command.HasID() {
		writeLine(&buf, strconv.FormatUint(f.ID, 10))
	}
	buf.Write(payload)
	if errPayload != nil {
		buf.WriteByte('\n')
		buf.Write(errPayload)
		buf.WriteByte('\n')
	}
	buf.WriteByte(EndMarker)

	return buf.Bytes(), nil
}

func writeLine(buf *bytes.Buffer, s string) {
	buf.WriteString(s)
	buf.WriteByte('\n')
}

func marshal(c codec.Codec, v any) ([]byte, error) {
	data, err := c.Marshal(v)
	if err != nil {
		return nil, errors.WithMessage(err, "protocol: marshal payload")
	}
	if bytes.IndexByte(data, '\n') >= 0 || bytes.IndexByte(data, EndMarker) >= 0 {
		return nil, errors.Wrapf(ErrUnframeable, "%s codec output", c.Type())
	}
	return data, nil
}
