package broker

import (
	"github.com/pkg/errors"

	"jmtp/message"
	"jmtp/protocol"
)

type temporaryError string

func (e temporaryError) Error() string   { return string(e) }
func (e temporaryError) Temporary() bool { return true }

var (
	// ErrLinkClosed resolves queries still pending when their link closes,
	// and is returned by sends on a closed link.
	ErrLinkClosed error = temporaryError("broker: link closed")
	// ErrQueryTimeout resolves a query whose deadline passed first.
	ErrQueryTimeout error = temporaryError("broker: query timed out")
)

// LinkClosedError carries the reason a link closed. It matches ErrLinkClosed
// under errors.Is.
type LinkClosedError struct {
	Cause error // Nil for a local Close or a clean end of stream
}

func (e *LinkClosedError) Error() string {
	if e.Cause == nil {
		return ErrLinkClosed.Error()
	}
	return ErrLinkClosed.Error() + ": " + e.Cause.Error()
}

func (e *LinkClosedError) Is(target error) bool { return target == ErrLinkClosed }
func (e *LinkClosedError) Unwrap() error        { return e.Cause }
func (e *LinkClosedError) Temporary() bool      { return true }

// asAppError converts a handler or forwarding failure into the application
// error sent back on the wire.
func asAppError(err error) *message.Error {
	var appErr *message.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, ErrQueryTimeout):
		return message.NewError(message.ErrorWait, message.GroupRemoteServerTimeout, err.Error())
	case errors.Is(err, ErrLinkClosed):
		return message.NewError(message.ErrorWait, message.GroupRemoteConnectionFailed, err.Error())
	default:
		return message.NewError(message.ErrorCancel, message.GroupInternalServerError, err.Error())
	}
}

func closeReason(cause error) string {
	switch {
	case cause == nil:
		return "local"
	case protocol.IsProtocolError(cause):
		return "protocol"
	default:
		return "connection"
	}
}
