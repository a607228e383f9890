package router

import (
	"context"

	log "github.com/sirupsen/logrus"

	"jmtp/registry"
)

// Sync mirrors table into the router until ctx is done. Each snapshot
// replaces the previously synced routes; routes added with Route are kept.
func (r *Router) Sync(ctx context.Context, table registry.RouteTable) error {
	updates := table.Watch(ctx)

	entries, err := table.List(ctx)
	if err != nil {
		return err
	}
	r.applySnapshot(entries)

	for entries := range updates {
		r.applySnapshot(entries)
	}
	return ctx.Err()
}

func (r *Router) applySnapshot(entries []registry.RouteEntry) {
	synced := make(map[string][]string, len(entries))
	for _, e := range entries {
		synced[e.Address] = appendUnique(synced[e.Address], e.Link)
	}

	r.mu.Lock()
	r.synced = synced
	r.mu.Unlock()

	log.WithField("routes", len(entries)).Debug("applied route table snapshot")
}
