package registry

import (
	"context"
	"sort"
	"sync"
)

// MemoryTable is an in-process RouteTable. TTLs are ignored.
type MemoryTable struct {
	mu       sync.Mutex
	entries  map[RouteEntry]struct{}
	watchers map[chan []RouteEntry]struct{}
}

func NewMemoryTable() *MemoryTable {
	return &MemoryTable{
		entries:  make(map[RouteEntry]struct{}),
		watchers: make(map[chan []RouteEntry]struct{}),
	}
}

func (m *MemoryTable) Register(_ context.Context, entry RouteEntry, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry] = struct{}{}
	m.notify()
	return nil
}

func (m *MemoryTable) Deregister(_ context.Context, entry RouteEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, entry)
	m.notify()
	return nil
}

func (m *MemoryTable) Lookup(_ context.Context, address string) ([]RouteEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RouteEntry
	for e := range m.entries {
		if e.Address == address {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

func (m *MemoryTable) List(_ context.Context) ([]RouteEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(), nil
}

func (m *MemoryTable) Watch(ctx context.Context) <-chan []RouteEntry {
	ch := make(chan []RouteEntry, 1)

	m.mu.Lock()
	m.watchers[ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers, ch)
		close(ch)
		m.mu.Unlock()
	}()
	return ch
}

// notify hands the latest snapshot to every watcher, replacing a snapshot
// the watcher has not consumed yet. Callers hold m.mu.
func (m *MemoryTable) notify() {
	snap := m.snapshot()
	for ch := range m.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (m *MemoryTable) snapshot() []RouteEntry {
	out := make([]RouteEntry, 0, len(m.entries))
	for e := range m.entries {
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

func sortEntries(entries []RouteEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Address != entries[j].Address {
			return entries[i].Address < entries[j].Address
		}
		return entries[i].Link < entries[j].Link
	})
}
