// Package message defines the frame data model exchanged between brokers.
//
// A Frame is one complete interaction on the wire. It is built per call,
// handed to the protocol encoder, and discarded; nothing here is persisted.
//
//	message        to, from, type, payload
//	message_error  to, from, type, payload, error
//	get / set      to, from, type, id, payload
//	result         to, from, type, id, payload
//	query_error    to, from, type, id, payload, error
package message

import "fmt"

// Command is the interaction kind carried on a frame's first line.
type Command byte

const (
	CmdMessage      Command = iota + 1 // Fire-and-forget message
	CmdMessageError                    // Message bounced with an error
	CmdGet                             // Query read request
	CmdSet                             // Query write request
	CmdResult                          // Query response
	CmdQueryError                      // Query failure response
)

var commandNames = map[Command]string{
	CmdMessage:      "message",
	CmdMessageError: "message_error",
	CmdGet:          "get",
	CmdSet:          "set",
	CmdResult:       "result",
	CmdQueryError:   "query_error",
}

var commandsByName = func() map[string]Command {
	m := make(map[string]Command, len(commandNames))
	for c, name := range commandNames {
		m[name] = c
	}
	return m
}()

// String returns the wire word for c.
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("command(%d)", byte(c))
}

// ParseCommand maps a wire word back to its Command.
func ParseCommand(s string) (Command, bool) {
	c, ok := commandsByName[s]
	return c, ok
}

// HasID reports whether frames of this kind carry a correlation id.
func (c Command) HasID() bool {
	return c == CmdGet || c == CmdSet || c == CmdResult || c == CmdQueryError
}

// HasError reports whether frames of this kind carry a second, error payload.
func (c Command) HasError() bool {
	return c == CmdMessageError || c == CmdQueryError
}

// IsRequest reports whether c is a query awaiting a response.
func (c Command) IsRequest() bool {
	return c == CmdGet || c == CmdSet
}

// IsResponse reports whether c answers an earlier query.
func (c Command) IsResponse() bool {
	return c == CmdResult || c == CmdQueryError
}

// Frame is one protocol interaction.
//
//   - TypeTag is filled in by the decoder; the encoder derives it from Payload.
//   - ID is meaningful only when Command.HasID().
//   - Error is non-nil only when Command.HasError().
type Frame struct {
	Command Command
	To      string
	From    string
	TypeTag string
	ID      uint64
	Payload any
	Error   *Error
}

func (f *Frame) String() string {
	if f.Command.HasID() {
		return fmt.Sprintf("%s{id:%d, to:%s, from:%s, type:%s}", f.Command, f.ID, f.To, f.From, f.TypeTag)
	}
	return fmt.Sprintf("%s{to:%s, from:%s, type:%s}", f.Command, f.To, f.From, f.TypeTag)
}
