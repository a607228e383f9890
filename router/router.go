// Package router resolves frame addresses to their destination: a handler
// registered in this process, or a link to a remote broker that frames are
// forwarded through.
//
// Addresses are opaque, case-sensitive strings. The router imposes no
// structure on them; it only matches them exactly.
package router

import (
	"context"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"jmtp/loadbalance"
	"jmtp/message"
)

// Handler serves frames addressed to a local actor.
type Handler interface {
	// HandleMessage receives message and message_error frames.
	HandleMessage(ctx context.Context, f *message.Frame)
	// HandleQuery answers get and set frames. A *message.Error return is sent
	// back as the query's application error.
	HandleQuery(ctx context.Context, f *message.Frame) (any, error)
}

// Link is the outbound side of a connection to a remote broker.
type Link interface {
	// Forward writes a message or message_error frame as-is.
	Forward(f *message.Frame) error
	// Query issues a get or set on the link and waits for its outcome.
	Query(ctx context.Context, cmd message.Command, to, from string, value any) (any, error)
}

// Target is the resolved destination of an address. Exactly one of Handler
// and Link is set.
type Target struct {
	Address  string
	Handler  Handler
	Link     Link
	LinkName string
}

func (t Target) IsLocal() bool { return t.Handler != nil }

// Router maps addresses to local handlers and remote links. It is safe for
// concurrent use.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler  // address → local handler
	links    map[string]Link     // link name → link
	routes   map[string][]string // address → link names, configured locally
	synced   map[string][]string // address → link names, from a route table
	fallback string              // link used when nothing else matches
	balancer loadbalance.Balancer
}

// New returns an empty Router choosing between multiple links with bal,
// or round robin when bal is nil.
func New(bal loadbalance.Balancer) *Router {
	if bal == nil {
		bal = &loadbalance.RoundRobinBalancer{}
	}
	return &Router{
		handlers: make(map[string]Handler),
		links:    make(map[string]Link),
		routes:   make(map[string][]string),
		synced:   make(map[string][]string),
		balancer: bal,
	}
}

// Handle registers h for address, replacing any previous handler.
func (r *Router) Handle(address string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[address] = h
}

// HandleFunc registers plain functions for address. Either may be nil.
func (r *Router) HandleFunc(address string, onMessage MessageFunc, onQuery QueryFunc) {
	r.Handle(address, HandlerFuncs{Message: onMessage, Query: onQuery})
}

// Remove unregisters the local handler for address.
func (r *Router) Remove(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, address)
}

// AddLink makes l available under name for routes and as a fallback.
func (r *Router) AddLink(name string, l Link) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links[name] = l
}

// RemoveLink drops the link registered under name. When l is non-nil the link
// is dropped only if it is still the one registered, so a replaced link does
// not remove its successor.
func (r *Router) RemoveLink(name string, l Link) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.links[name]
	if !ok || (l != nil && current != l) {
		return false
	}
	delete(r.links, name)
	return true
}

// Link returns the link registered under name.
func (r *Router) Link(name string) (Link, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.links[name]
	return l, ok
}

// Route sends frames for address through the named links. Links need not be
// registered yet; unregistered ones are skipped at resolve time.
func (r *Router) Route(address string, links ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[address] = appendUnique(r.routes[address], links...)
}

// Unroute removes the locally configured routes of address.
func (r *Router) Unroute(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.routes, address)
}

// SetDefault names the link that receives frames for otherwise unknown
// addresses. An empty name disables the fallback.
func (r *Router) SetDefault(link string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = link
}

// Resolve finds the destination of a frame sent to `to` by `from`. Local
// handlers win over routes; routes win over the fallback link. `from` keys the
// balancer when several links serve the address.
func (r *Router) Resolve(to, from string) (Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, ok := r.handlers[to]; ok {
		return Target{Address: to, Handler: h}, true
	}

	var candidates []string
	for _, name := range r.routes[to] {
		if _, ok := r.links[name]; ok {
			candidates = append(candidates, name)
		}
	}
	for _, name := range r.synced[to] {
		if _, ok := r.links[name]; ok {
			candidates = appendUnique(candidates, name)
		}
	}
	if len(candidates) == 0 {
		if l, ok := r.links[r.fallback]; ok && r.fallback != "" {
			return Target{Address: to, Link: l, LinkName: r.fallback}, true
		}
		return Target{}, false
	}

	name, err := r.balancer.Pick(candidates, from)
	if err != nil {
		log.WithFields(log.Fields{"to": to, "err": err}).Warn("link selection failed")
		return Target{}, false
	}
	return Target{Address: to, Link: r.links[name], LinkName: name}, true
}

// Addresses lists the addresses of local handlers, sorted.
func (r *Router) Addresses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for addr := range r.handlers {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

func appendUnique(list []string, names ...string) []string {
	for _, name := range names {
		dup := false
		for _, have := range list {
			if have == name {
				dup = true
				break
			}
		}
		if !dup {
			list = append(list, name)
		}
	}
	return list
}
