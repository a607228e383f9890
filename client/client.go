// Package client dials outbound broker links.
//
// A Client keeps at most one Broker per peer address. Every query and message
// to that peer is multiplexed over it, so there is no connection pool:
//
//	goroutine-1 ──Get(peer)──┐
//	goroutine-2 ──Get(peer)──┼──→ one Broker per peer ──→ peer
//	goroutine-3 ──Send(peer)─┘
//
// Links are registered with the Router under their dial address, so routes
// naming that address reach the peer. A closed link is dropped and dialed
// again on next use; Maintain redials eagerly.
package client

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"jmtp/broker"
	"jmtp/codec"
	"jmtp/middleware"
	"jmtp/router"
	"jmtp/transport"
)

var ErrClosed = errors.New("client: closed")

type Client struct {
	router      *router.Router
	types       *codec.Registry
	cfg         broker.Config
	dialer      *transport.Dialer
	middlewares []middleware.Middleware

	dials  singleflight.Group // Collapses concurrent dials to one peer
	ctx    context.Context    // Cancelled by Close
	cancel context.CancelFunc

	mu     sync.Mutex
	links  map[string]*broker.Broker // dial address → open link
	closed bool
}

// NewClient returns a Client whose links route inbound frames through r.
// Custom payload types are decoded through types, which may be nil.
func NewClient(r *router.Router, types *codec.Registry, cfg broker.Config) *Client {
	c := &Client{
		router: r,
		types:  types,
		cfg:    cfg,
		dialer: &transport.Dialer{},
		links:  make(map[string]*broker.Broker),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// SetDialer replaces the default TCP dialer.
func (c *Client) SetDialer(d *transport.Dialer) { c.dialer = d }

// Use registers a middleware for inbound queries on links dialed afterwards.
func (c *Client) Use(mw middleware.Middleware) {
	c.middlewares = append(c.middlewares, mw)
}

// Link returns the open link to addr, dialing it once if there is none.
func (c *Client) Link(ctx context.Context, addr string) (*broker.Broker, error) {
	return c.link(ctx, addr, c.dialer.Dial)
}

// Maintain keeps a link to addr open until ctx is done or the client is
// closed, redialing with backoff whenever it drops.
func (c *Client) Maintain(ctx context.Context, addr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	for {
		b, err := c.link(ctx, addr, c.dialer.DialRetry)
		if err != nil {
			if c.ctx.Err() != nil {
				return ErrClosed
			}
			return err
		}
		select {
		case <-b.Done():
			log.WithFields(log.Fields{"link": addr, "err": b.Err()}).Info("link dropped, redialing")
		case <-ctx.Done():
			if c.ctx.Err() != nil {
				return ErrClosed
			}
			return ctx.Err()
		}
	}
}

func (c *Client) link(ctx context.Context, addr string, dial func(context.Context, string) (net.Conn, error)) (*broker.Broker, error) {
	if b, err := c.current(addr); b != nil || err != nil {
		return b, err
	}
	v, err, _ := c.dials.Do(addr, func() (any, error) {
		if b, err := c.current(addr); b != nil || err != nil {
			return b, err
		}
		conn, err := dial(ctx, addr)
		if err != nil {
			return nil, err
		}
		return c.attach(addr, conn)
	})
	if err != nil {
		return nil, err
	}
	return v.(*broker.Broker), nil
}

// current returns the open link to addr, if any.
func (c *Client) current(addr string) (*broker.Broker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if b, ok := c.links[addr]; ok && b.State() == broker.StateOpen {
		return b, nil
	}
	return nil, nil
}

func (c *Client) attach(addr string, conn net.Conn) (*broker.Broker, error) {
	cfg := c.cfg
	cfg.Name = addr
	b := broker.New(conn, c.router, c.types, cfg)
	b.Use(c.middlewares...)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return nil, ErrClosed
	}
	c.links[addr] = b
	c.mu.Unlock()

	c.router.AddLink(addr, b)
	b.OnClose(func(b *broker.Broker) {
		c.router.RemoveLink(addr, b)
		c.mu.Lock()
		if c.links[addr] == b {
			delete(c.links, addr)
		}
		c.mu.Unlock()
	})
	b.Start()

	log.WithField("link", addr).Info("dialed link")
	return b, nil
}

// Send delivers a fire-and-forget message to the actor `to` through peer.
func (c *Client) Send(ctx context.Context, peer, to, from string, value any) error {
	b, err := c.Link(ctx, peer)
	if err != nil {
		return err
	}
	return b.Message(to, from, value)
}

// Get queries the actor `to` through peer and waits for its outcome.
func (c *Client) Get(ctx context.Context, peer, to, from string, value any) (any, error) {
	b, err := c.Link(ctx, peer)
	if err != nil {
		return nil, err
	}
	return b.QueryGet(ctx, to, from, value)
}

// Set is Get with set semantics.
func (c *Client) Set(ctx context.Context, peer, to, from string, value any) (any, error) {
	b, err := c.Link(ctx, peer)
	if err != nil {
		return nil, err
	}
	return b.QuerySet(ctx, to, from, value)
}

// Close closes every link and stops Maintain loops. Queries pending on the
// links fail with a link-closed error.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	links := make([]*broker.Broker, 0, len(c.links))
	for _, b := range c.links {
		links = append(links, b)
	}
	c.mu.Unlock()

	c.cancel()
	for _, b := range links {
		b.Close()
	}
	for _, b := range links {
		_ = b.Wait(context.Background())
	}
	return nil
}
