// Package registry stores static address → link route bindings shared between
// brokers. A binding says "frames for Address leave through the link named
// Link"; links themselves are still dialed explicitly.
package registry

import "context"

// RouteEntry binds one address to one link name.
type RouteEntry struct {
	Address string `json:"address"`
	Link    string `json:"link"`
}

type RouteTable interface {
	// Register adds entry. With ttl > 0 the entry expires unless the
	// registering process stays alive.
	Register(ctx context.Context, entry RouteEntry, ttl int64) error
	Deregister(ctx context.Context, entry RouteEntry) error
	// Lookup returns the entries bound to address.
	Lookup(ctx context.Context, address string) ([]RouteEntry, error)
	// List returns every entry in the table.
	List(ctx context.Context) ([]RouteEntry, error)
	// Watch emits a full snapshot of the table after each change, until ctx
	// is done.
	Watch(ctx context.Context) <-chan []RouteEntry
}
