package protocol

import (
	"io"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"jmtp/codec"
	"jmtp/message"
)

const (
	encoderOpen int32 = iota
	encoderClosed
)

type flusher interface {
	Flush() error
}

// Encoder writes frames onto one stream. Each call serializes the complete
// frame up front, then writes and flushes it while holding the stream mutex,
// so frames from concurrent callers never interleave. There is no batching.
//
// A failed write closes the stream. Correlation ids are always supplied by the
// caller.
type Encoder struct {
	mu     sync.Mutex // Held around each complete frame write
	w      io.Writer
	closer io.Closer // Nil when w is not closable
	codec  codec.Codec
	state  atomic.Int32
	name   string // For logs
}

// NewEncoder returns an Encoder writing to w. If w is an io.Closer, Close
// closes it; if w has a Flush() error method, it is called after every frame.
func NewEncoder(w io.Writer, c codec.Codec) *Encoder {
	e := &Encoder{w: w, codec: c}
	if closer, ok := w.(io.Closer); ok {
		e.closer = closer
	}
	return e
}

// SetName labels the encoder in log output.
func (e *Encoder) SetName(name string) { e.name = name }

func (e *Encoder) Message(to, from string, value any) error {
	return e.WriteFrame(&message.Frame{Command: message.CmdMessage, To: to, From: from, Payload: value})
}

func (e *Encoder) MessageError(to, from string, value any, err *message.Error) error {
	return e.WriteFrame(&message.Frame{Command: message.CmdMessageError, To: to, From: from, Payload: value, Error: err})
}

func (e *Encoder) QueryGet(id uint64, to, from string, value any) error {
	return e.WriteFrame(&message.Frame{Command: message.CmdGet, ID: id, To: to, From: from, Payload: value})
}

func (e *Encoder) QuerySet(id uint64, to, from string, value any) error {
	return e.WriteFrame(&message.Frame{Command: message.CmdSet, ID: id, To: to, From: from, Payload: value})
}

func (e *Encoder) QueryResult(id uint64, to, from string, value any) error {
	return e.WriteFrame(&message.Frame{Command: message.CmdResult, ID: id, To: to, From: from, Payload: value})
}

func (e *Encoder) QueryError(id uint64, to, from string, value any, err *message.Error) error {
	return e.WriteFrame(&message.Frame{Command: message.CmdQueryError, ID: id, To: to, From: from, Payload: value, Error: err})
}

// WriteFrame writes f and flushes. Serialization failures leave the stream
// untouched; I/O failures close it and return a *ConnectionError.
func (e *Encoder) WriteFrame(f *message.Frame) error {
	if e.IsClosed() {
		return ErrClosed
	}
	buf, err := EncodeFrame(e.codec, f)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.IsClosed() {
		return ErrClosed
	}
	if log.IsLevelEnabled(log.DebugLevel) {
		log.WithFields(log.Fields{"encoder": e.name, "frame": f.String()}).Debug("write frame")
	}
	if _, err := e.w.Write(buf); err != nil {
		return e.fail(err)
	}
	if fl, ok := e.w.(flusher); ok {
		if err := fl.Flush(); err != nil {
			return e.fail(err)
		}
	}
	return nil
}

func (e *Encoder) fail(err error) error {
	if e.IsClosed() {
		// The write was interrupted by a concurrent Close.
		return ErrClosed
	}
	log.WithFields(log.Fields{"encoder": e.name, "err": err}).Warn("write failed, closing stream")
	_ = e.Close()
	return &ConnectionError{Op: "write", Err: err}
}

func (e *Encoder) IsClosed() bool {
	return e.state.Load() == encoderClosed
}

// Close closes the underlying stream. It is idempotent and may race with an
// in-flight write, which then fails with ErrClosed.
func (e *Encoder) Close() error {
	if !e.state.CompareAndSwap(encoderOpen, encoderClosed) {
		return nil
	}
	log.WithField("encoder", e.name).Debug("close")
	if e.closer != nil {
		return e.closer.Close()
	}
	return nil
}
