// Package server accepts inbound broker links.
//
// Every accepted connection becomes one Broker, and all of them share the
// server's Router, so a frame arriving on one link can be answered locally or
// forwarded out through another:
//
//	Accept conn → Broker (named after the remote address)
//	  → Router.AddLink(name, broker)
//	  → Serve: read loop → local handler | forward on another link
//	  → on close: Router.RemoveLink(name, broker)
package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"jmtp/broker"
	"jmtp/codec"
	"jmtp/middleware"
	"jmtp/registry"
	"jmtp/router"
)

// Server accepts connections and serves one Broker per connection.
type Server struct {
	router      *router.Router
	types       *codec.Registry
	cfg         broker.Config
	middlewares []middleware.Middleware // Applied to every link's inbound queries

	listener atomic.Pointer[net.Listener]
	ready    chan struct{} // Closed once listening
	shutdown atomic.Bool   // Set before the listener closes so Accept errors are expected
	wg       sync.WaitGroup

	mu    sync.Mutex
	links map[*broker.Broker]struct{}

	table         registry.RouteTable // Nil unless Advertise was called
	advertiseAddr string
	advertiseTTL  int64
	advertised    []registry.RouteEntry // Guarded by mu
}

// NewServer returns a Server routing through r. Custom payload types are
// decoded through types, which may be nil.
func NewServer(r *router.Router, types *codec.Registry, cfg broker.Config) *Server {
	return &Server{
		router: r,
		types:  types,
		cfg:    cfg,
		ready:  make(chan struct{}),
		links:  make(map[*broker.Broker]struct{}),
	}
}

// Use registers a middleware. Middlewares are applied in the order they are
// added, and must be registered before Serve.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Advertise publishes the router's local addresses to table when serving
// starts, bound to the link name advertiseAddr that peers dial. Entries are
// leased for ttl seconds and withdrawn on Shutdown.
func (svr *Server) Advertise(table registry.RouteTable, advertiseAddr string, ttl int64) {
	svr.table = table
	svr.advertiseAddr = advertiseAddr
	svr.advertiseTTL = ttl
}

// Serve listens on address and serves connections until Shutdown.
func (svr *Server) Serve(network, address string) error {
	l, err := net.Listen(network, address)
	if err != nil {
		return errors.WithMessage(err, "listen")
	}
	return svr.ServeListener(l)
}

// ServeListener serves connections accepted from l until Shutdown. It returns
// nil after a Shutdown and the Accept error otherwise.
func (svr *Server) ServeListener(l net.Listener) error {
	if !svr.listener.CompareAndSwap(nil, &l) {
		return errors.New("server: already serving")
	}
	close(svr.ready)
	log.WithField("addr", l.Addr().String()).Info("server listening")

	if err := svr.advertise(); err != nil {
		log.WithField("err", err).Warn("advertising routes failed")
	}

	for {
		conn, err := l.Accept()
		if err != nil {
			if svr.shutdown.Load() {
				return nil
			}
			return errors.WithMessage(err, "accept")
		}
		svr.handleConn(conn)
	}
}

// Addr returns the listening address, blocking until the server is listening.
func (svr *Server) Addr() net.Addr {
	<-svr.ready
	return (*svr.listener.Load()).Addr()
}

// Links returns the number of open inbound links.
func (svr *Server) Links() int {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	return len(svr.links)
}

// handleConn starts a Broker for conn and registers it with the router for
// the lifetime of the link.
func (svr *Server) handleConn(conn net.Conn) {
	cfg := svr.cfg
	cfg.Name = conn.RemoteAddr().String()

	b := broker.New(conn, svr.router, svr.types, cfg)
	b.Use(svr.middlewares...)

	svr.mu.Lock()
	if svr.shutdown.Load() {
		svr.mu.Unlock()
		conn.Close()
		return
	}
	svr.links[b] = struct{}{}
	svr.wg.Add(1)
	svr.mu.Unlock()

	svr.router.AddLink(b.Name(), b)
	b.OnClose(func(b *broker.Broker) {
		svr.router.RemoveLink(b.Name(), b)
		svr.mu.Lock()
		delete(svr.links, b)
		svr.mu.Unlock()
	})

	log.WithField("link", b.Name()).Info("accepted link")
	go func() {
		defer svr.wg.Done()
		if err := b.Serve(); err != nil {
			log.WithFields(log.Fields{"link": b.Name(), "err": err}).Warn("link failed")
		}
		_ = b.Wait(context.Background())
	}()
}

// Shutdown performs graceful shutdown:
//  1. Withdraw advertised routes, so peers stop sending here
//  2. Close the listener
//  3. Close every link, failing the queries pending on it
//  4. Wait for running handlers to return, up to timeout
func (svr *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	svr.withdraw(ctx)

	svr.mu.Lock()
	svr.shutdown.Store(true)
	links := make([]*broker.Broker, 0, len(svr.links))
	for b := range svr.links {
		links = append(links, b)
	}
	svr.mu.Unlock()

	if l := svr.listener.Load(); l != nil {
		(*l).Close()
	}
	for _, b := range links {
		b.Close()
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("server: timeout waiting for links to finish")
	}
}

func (svr *Server) advertise() error {
	if svr.table == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, addr := range svr.router.Addresses() {
		entry := registry.RouteEntry{Address: addr, Link: svr.advertiseAddr}
		if err := svr.table.Register(ctx, entry, svr.advertiseTTL); err != nil {
			return errors.WithMessagef(err, "register %s", addr)
		}
		svr.mu.Lock()
		svr.advertised = append(svr.advertised, entry)
		svr.mu.Unlock()
	}
	return nil
}

func (svr *Server) withdraw(ctx context.Context) {
	svr.mu.Lock()
	entries := svr.advertised
	svr.advertised = nil
	svr.mu.Unlock()

	for _, entry := range entries {
		if err := svr.table.Deregister(ctx, entry); err != nil {
			log.WithFields(log.Fields{"address": entry.Address, "err": err}).Warn("withdrawing route failed")
		}
	}
}
