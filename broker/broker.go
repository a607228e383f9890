package broker

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"jmtp/codec"
	"jmtp/message"
	"jmtp/middleware"
	"jmtp/protocol"
	"jmtp/router"
)

// State is a link's lifecycle stage. It only moves forward.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Broker multiplexes messages and queries over one duplex stream.
type Broker struct {
	name   string
	cfg    Config
	router *router.Router

	enc *protocol.Encoder
	dec *protocol.Decoder

	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // Inbound query chain, built by Serve

	pending  *pendingTable
	inflight *semaphore.Weighted
	messages chan *message.Frame

	mu       sync.Mutex // Guards state transitions against workers.Add
	state    atomic.Int32
	serving  atomic.Bool
	workers  sync.WaitGroup // Query handlers and the message dispatcher
	ctx      context.Context
	cancel   context.CancelFunc
	once     sync.Once
	done     chan struct{}
	err      error // Terminal cause; readable once done is closed
	onClose  []func(*Broker)
	closeMu  sync.Mutex
	isClosed bool
}

// New returns a Broker for conn. Inbound frames are routed through r and
// custom payload tags decoded through types (which may be nil). Call Serve
// or Start to begin reading.
func New(conn io.ReadWriteCloser, r *router.Router, types *codec.Registry, cfg Config) *Broker {
	cfg = cfg.withDefaults()
	name := cfg.Name
	if name == "" {
		name = uuid.NewString()
	}
	c := codec.GetCodec(cfg.CodecType)

	b := &Broker{
		name:     name,
		cfg:      cfg,
		router:   r,
		enc:      protocol.NewEncoder(conn, c),
		dec:      protocol.NewDecoder(conn, c, types, cfg.Limits),
		pending:  newPendingTable(),
		inflight: semaphore.NewWeighted(cfg.MaxInflightQueries),
		messages: make(chan *message.Frame, cfg.MessageQueue),
		done:     make(chan struct{}),
	}
	b.enc.SetName(name)
	b.ctx, b.cancel = context.WithCancel(context.Background())
	return b
}

func (b *Broker) Name() string { return b.name }

func (b *Broker) State() State { return State(b.state.Load()) }

// Done is closed once the link has fully closed.
func (b *Broker) Done() <-chan struct{} { return b.done }

// Err returns why the link closed: nil while open and after a local Close or
// a clean end of stream, otherwise the protocol or connection error.
func (b *Broker) Err() error {
	select {
	case <-b.done:
		return b.err
	default:
		return nil
	}
}

// Pending returns the number of outbound queries awaiting an outcome.
func (b *Broker) Pending() int { return b.pending.len() }

// Use appends middlewares around inbound query handling. It must be called
// before Serve.
func (b *Broker) Use(mw ...middleware.Middleware) {
	b.middlewares = append(b.middlewares, mw...)
}

// OnClose registers fn to run once the link has closed. Functions registered
// after closure run immediately.
func (b *Broker) OnClose(fn func(*Broker)) {
	b.closeMu.Lock()
	if !b.isClosed {
		b.onClose = append(b.onClose, fn)
		b.closeMu.Unlock()
		return
	}
	b.closeMu.Unlock()
	fn(b)
}

// Start runs Serve in its own goroutine.
func (b *Broker) Start() {
	go func() { _ = b.Serve() }()
}

// Serve reads and dispatches frames until the link closes, and returns the
// terminal cause (see Err).
func (b *Broker) Serve() error {
	if !b.serving.CompareAndSwap(false, true) {
		return errors.New("broker: already serving")
	}
	b.handler = middleware.Chain(b.middlewares...)(b.routeQuery)

	if b.track() {
		go b.dispatchMessages()
	}

	log.WithField("link", b.name).Debug("link serving")
	for {
		f, err := b.dec.ReadFrame()
		if err != nil {
			b.shutdown(err)
			return b.Err()
		}
		if b.State() != StateOpen {
			droppedFramesTotal.WithLabelValues("closed").Inc()
			<-b.done
			return b.Err()
		}
		framesReceivedTotal.WithLabelValues(f.Command.String()).Inc()
		b.dispatch(f)
	}
}

// Close closes the link and fails all pending queries with a link-closed
// error. It is idempotent and safe to call concurrently with sends and with
// the read loop.
func (b *Broker) Close() error {
	b.shutdown(nil)
	return nil
}

// Wait blocks until the query handlers and message dispatcher of a closed
// link have returned, or ctx ends.
func (b *Broker) Wait(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		<-b.done
		b.workers.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Broker) shutdown(cause error) {
	b.once.Do(func() {
		b.mu.Lock()
		b.state.Store(int32(StateClosing))
		b.mu.Unlock()

		if cause == io.EOF {
			cause = nil
		}
		b.err = cause
		b.cancel()
		_ = b.enc.Close()
		failed := b.pending.closeAll(&LinkClosedError{Cause: cause})

		entry := log.WithFields(log.Fields{"link": b.name, "failedQueries": failed})
		if cause != nil {
			entry.WithField("err", cause).Warn("link closed")
		} else {
			entry.Debug("link closed")
		}
		linksClosedTotal.WithLabelValues(closeReason(cause)).Inc()

		b.state.Store(int32(StateClosed))
		close(b.done)

		b.closeMu.Lock()
		b.isClosed = true
		fns := b.onClose
		b.onClose = nil
		b.closeMu.Unlock()
		for _, fn := range fns {
			fn(b)
		}
	})
}

// track registers a worker goroutine unless the link is closing.
func (b *Broker) track() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.State() != StateOpen {
		return false
	}
	b.workers.Add(1)
	return true
}

//
// Outbound
//

// Message sends a fire-and-forget message.
func (b *Broker) Message(to, from string, value any) error {
	return b.send(&message.Frame{Command: message.CmdMessage, To: to, From: from, Payload: value})
}

// MessageError sends a message carrying an application error.
func (b *Broker) MessageError(to, from string, value any, appErr *message.Error) error {
	return b.send(&message.Frame{Command: message.CmdMessageError, To: to, From: from, Payload: value, Error: appErr})
}

// Forward writes a message or message_error frame unchanged. It implements
// router.Link.
func (b *Broker) Forward(f *message.Frame) error {
	if f.Command != message.CmdMessage && f.Command != message.CmdMessageError {
		return errors.Errorf("broker: cannot forward %s frame", f.Command)
	}
	return b.send(&message.Frame{Command: f.Command, To: f.To, From: f.From, Payload: f.Payload, Error: f.Error})
}

// Go issues a get or set and returns without waiting. The correlation id is
// allocated and its pending entry registered before the frame is written.
// A timeout of zero falls back to Config.QueryTimeout.
func (b *Broker) Go(cmd message.Command, to, from string, value any, timeout time.Duration) (*Call, error) {
	if !cmd.IsRequest() {
		return nil, errors.Errorf("broker: %s is not a query", cmd)
	}
	if b.State() != StateOpen {
		return nil, &LinkClosedError{Cause: b.Err()}
	}
	if timeout <= 0 {
		timeout = b.cfg.QueryTimeout
	}

	q, err := b.pending.register(timeout)
	if err != nil {
		return nil, err
	}
	f := &message.Frame{Command: cmd, ID: q.id, To: to, From: from, Payload: value}
	if err := b.write(f); err != nil {
		b.pending.resolve(q.id, Result{Err: err})
		return nil, err
	}
	return &Call{ID: q.id, Command: cmd, To: to, From: from, Done: q.done, pending: b.pending}, nil
}

// QueryGet sends a get and waits for its outcome: the result value, a
// *message.Error from the peer, ErrQueryTimeout, or a link-closed error.
// A caller that cancels ctx before its deadline gets context.Canceled
// instead; that is the caller abandoning the query, not a protocol outcome,
// and a later response for it is dropped as unmatched.
func (b *Broker) QueryGet(ctx context.Context, to, from string, value any) (any, error) {
	return b.Query(ctx, message.CmdGet, to, from, value)
}

// QuerySet sends a set and waits for its outcome; see QueryGet.
func (b *Broker) QuerySet(ctx context.Context, to, from string, value any) (any, error) {
	return b.Query(ctx, message.CmdSet, to, from, value)
}

// Query issues cmd and waits for its outcome. It implements router.Link.
func (b *Broker) Query(ctx context.Context, cmd message.Command, to, from string, value any) (any, error) {
	call, err := b.Go(cmd, to, from, value, 0)
	if err != nil {
		return nil, err
	}
	return call.Wait(ctx)
}

func (b *Broker) send(f *message.Frame) error {
	if b.State() != StateOpen {
		return &LinkClosedError{Cause: b.Err()}
	}
	return b.write(f)
}

// write hands f to the encoder. Stream failures close the link.
func (b *Broker) write(f *message.Frame) error {
	err := b.enc.WriteFrame(f)
	switch {
	case err == nil:
		framesSentTotal.WithLabelValues(f.Command.String()).Inc()
		return nil
	case errors.Is(err, protocol.ErrClosed):
		return &LinkClosedError{Cause: b.Err()}
	case protocol.IsConnectionError(err):
		b.shutdown(err)
		return &LinkClosedError{Cause: err}
	default:
		// Serialization failure; nothing reached the stream.
		return err
	}
}

//
// Inbound
//

func (b *Broker) dispatch(f *message.Frame) {
	switch {
	case f.Command.IsResponse():
		b.deliverResponse(f)
	case f.Command.IsRequest():
		b.acceptQuery(f)
	default:
		b.enqueueMessage(f)
	}
}

func (b *Broker) deliverResponse(f *message.Frame) {
	r := Result{Value: f.Payload}
	if f.Command == message.CmdQueryError {
		r.Err = f.Error
	}
	if !b.pending.resolve(f.ID, r) {
		unmatchedResponsesTotal.Inc()
		log.WithFields(log.Fields{
			"link":    b.name,
			"id":      f.ID,
			"command": f.Command.String(),
			"from":    f.From,
		}).Warn("unmatched response")
	}
}

func (b *Broker) acceptQuery(f *message.Frame) {
	if !b.inflight.TryAcquire(1) {
		droppedFramesTotal.WithLabelValues("inflight").Inc()
		b.reply(f, nil, message.NewError(message.ErrorWait, message.GroupResourceConstraint, "too many queries in flight"))
		return
	}
	if !b.track() {
		b.inflight.Release(1)
		return
	}
	go func() {
		defer b.workers.Done()
		defer b.inflight.Release(1)

		value, err := b.handler(b.ctx, f)
		b.reply(f, value, err)
	}()
}

// reply answers query f, copying its correlation id.
func (b *Broker) reply(f *message.Frame, value any, err error) {
	if err == nil {
		err = b.send(&message.Frame{Command: message.CmdResult, ID: f.ID, To: f.From, From: f.To, Payload: value})
		if err == nil || errors.Is(err, ErrLinkClosed) {
			return
		}
		// The handler's value cannot be serialized; report that instead.
		log.WithFields(log.Fields{"link": b.name, "id": f.ID, "err": err}).Warn("cannot send query result")
		err = message.NewError(message.ErrorCancel, message.GroupInternalServerError, err.Error())
	}

	sendErr := b.send(&message.Frame{
		Command: message.CmdQueryError,
		ID:      f.ID,
		To:      f.From,
		From:    f.To,
		Payload: f.Payload,
		Error:   asAppError(err),
	})
	if sendErr != nil && !errors.Is(sendErr, ErrLinkClosed) {
		log.WithFields(log.Fields{"link": b.name, "id": f.ID, "err": sendErr}).Warn("cannot send query error")
	}
}

// routeQuery is the innermost inbound query handler.
func (b *Broker) routeQuery(ctx context.Context, f *message.Frame) (any, error) {
	t, ok := b.router.Resolve(f.To, f.From)
	switch {
	case !ok || (!t.IsLocal() && t.Link == router.Link(b)):
		return nil, message.NewError(message.ErrorCancel, message.GroupItemNotFound, "no route to "+f.To)
	case t.IsLocal():
		return t.Handler.HandleQuery(ctx, f)
	default:
		return t.Link.Query(ctx, f.Command, f.To, f.From, f.Payload)
	}
}

func (b *Broker) enqueueMessage(f *message.Frame) {
	select {
	case b.messages <- f:
	default:
		droppedFramesTotal.WithLabelValues("queue").Inc()
		b.bounce(f, message.NewError(message.ErrorWait, message.GroupResourceConstraint, "message queue full"))
	}
}

// dispatchMessages delivers inbound messages one at a time, in arrival order.
func (b *Broker) dispatchMessages() {
	defer b.workers.Done()
	for {
		select {
		case f := <-b.messages:
			if b.State() != StateOpen {
				return
			}
			b.deliverMessage(f)
		case <-b.done:
			return
		}
	}
}

func (b *Broker) deliverMessage(f *message.Frame) {
	t, ok := b.router.Resolve(f.To, f.From)
	switch {
	case !ok || (!t.IsLocal() && t.Link == router.Link(b)):
		b.bounce(f, message.NewError(message.ErrorCancel, message.GroupItemNotFound, "no route to "+f.To))
	case t.IsLocal():
		b.invokeMessageHandler(t.Handler, f)
	default:
		if err := t.Link.Forward(f); err != nil {
			b.bounce(f, message.NewError(message.ErrorWait, message.GroupRemoteConnectionFailed, err.Error()))
		}
	}
}

func (b *Broker) invokeMessageHandler(h router.Handler, f *message.Frame) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{"link": b.name, "to": f.To, "panic": r}).Error("message handler panicked")
		}
	}()
	h.HandleMessage(b.ctx, f)
}

// bounce returns an undeliverable message to its sender. Undeliverable
// message errors are dropped, never bounced.
func (b *Broker) bounce(f *message.Frame, appErr *message.Error) {
	if f.Command != message.CmdMessage {
		droppedFramesTotal.WithLabelValues("undeliverable").Inc()
		log.WithFields(log.Fields{"link": b.name, "to": f.To, "from": f.From, "err": appErr}).Info("dropping undeliverable message error")
		return
	}
	if err := b.MessageError(f.From, f.To, f.Payload, appErr); err != nil && !errors.Is(err, ErrLinkClosed) {
		log.WithFields(log.Fields{"link": b.name, "to": f.From, "err": err}).Warn("cannot bounce message")
	}
}
