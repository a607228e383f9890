package protocol

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrClosed is returned by writes on a closed Encoder.
	ErrClosed = errors.New("protocol: stream closed")
	// ErrUnframeable is returned when a frame field or a codec's output would
	// cross a frame boundary (a raw newline or a 0xFF byte).
	ErrUnframeable = errors.New("protocol: value cannot be framed")
)

// ProtocolError reports a malformed inbound frame. The stream it was read
// from cannot be resynchronized and must be closed.
type ProtocolError struct {
	Reason string
	Err    error
}

func protocolErrorf(cause error, format string, args ...any) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...), Err: cause}
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return "protocol: malformed frame: " + e.Reason + ": " + e.Err.Error()
	}
	return "protocol: malformed frame: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ConnectionError reports an I/O failure on the underlying stream.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return "protocol: " + e.Op + ": " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsProtocolError reports whether err is, or wraps, a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsConnectionError reports whether err is, or wraps, a *ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
