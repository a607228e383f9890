// etcd backs the route table when several daemons share one set of routes:
//
//	Key:   {prefix}/{escaped address}/{escaped link}
//	Value: JSON-encoded RouteEntry
//
// Registrations may carry a TTL lease: if the registering process dies, the
// lease expires and its routes disappear with it.

package registry

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const DefaultPrefix = "/jmtp/routes"

// EtcdTable implements RouteTable using etcd v3.
type EtcdTable struct {
	client *clientv3.Client // Thread-safe, shared across goroutines
	prefix string
}

// NewEtcdTable connects to the given etcd endpoints.
func NewEtcdTable(endpoints []string, prefix string) (*EtcdTable, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "registry: dial etcd")
	}
	return NewEtcdTableFromClient(c, prefix), nil
}

func NewEtcdTableFromClient(c *clientv3.Client, prefix string) *EtcdTable {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &EtcdTable{client: c, prefix: strings.TrimSuffix(prefix, "/")}
}

func (r *EtcdTable) key(entry RouteEntry) string {
	return r.addressPrefix(entry.Address) + url.PathEscape(entry.Link)
}

func (r *EtcdTable) addressPrefix(address string) string {
	return r.prefix + "/" + url.PathEscape(address) + "/"
}

// Register stores entry, attaching a kept-alive lease when ttl > 0.
//
// The lease id stays local to this call so that one EtcdTable can be shared
// by concurrent registrations.
func (r *EtcdTable) Register(ctx context.Context, entry RouteEntry, ttl int64) error {
	val, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		_, err = r.client.Put(ctx, r.key(entry), string(val))
		return errors.WithMessage(err, "registry: put route")
	}

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return errors.WithMessage(err, "registry: grant lease")
	}
	if _, err = r.client.Put(ctx, r.key(entry), string(val), clientv3.WithLease(lease.ID)); err != nil {
		return errors.WithMessage(err, "registry: put route")
	}

	// KeepAlive renews the lease until the client closes; its response channel
	// must be drained.
	ch, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return errors.WithMessage(err, "registry: keep lease alive")
	}
	go func() {
		for range ch {
		}
	}()
	return nil
}

func (r *EtcdTable) Deregister(ctx context.Context, entry RouteEntry) error {
	_, err := r.client.Delete(ctx, r.key(entry))
	return errors.WithMessage(err, "registry: delete route")
}

func (r *EtcdTable) Lookup(ctx context.Context, address string) ([]RouteEntry, error) {
	return r.get(ctx, r.addressPrefix(address))
}

func (r *EtcdTable) List(ctx context.Context) ([]RouteEntry, error) {
	return r.get(ctx, r.prefix+"/")
}

// Watch re-reads the whole table on every change under the prefix. Reading
// the full list is simpler than folding individual watch events.
func (r *EtcdTable) Watch(ctx context.Context) <-chan []RouteEntry {
	ch := make(chan []RouteEntry, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, r.prefix+"/", clientv3.WithPrefix())
		for resp := range watchChan {
			if err := resp.Err(); err != nil {
				log.WithField("err", err).Warn("route table watch failed")
				continue
			}
			entries, err := r.List(ctx)
			if err != nil {
				log.WithField("err", err).Warn("route table list failed")
				continue
			}
			select {
			case ch <- entries:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func (r *EtcdTable) get(ctx context.Context, prefix string) ([]RouteEntry, error) {
	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errors.WithMessage(err, "registry: get routes")
	}

	entries := make([]RouteEntry, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var entry RouteEntry
		if err := json.Unmarshal(kv.Value, &entry); err != nil {
			log.WithFields(log.Fields{"key": string(kv.Key), "err": err}).Warn("skipping malformed route")
			continue
		}
		entries = append(entries, entry)
	}
	sortEntries(entries)
	return entries, nil
}

// Close releases the etcd client.
func (r *EtcdTable) Close() error {
	return r.client.Close()
}
