package broker

import (
	"sync"
	"time"
)

// Result is the single outcome of an outbound query. Err is nil for a
// result, a *message.Error for a peer's query_error, and otherwise
// ErrQueryTimeout, a link-closed error or the caller's context error.
type Result struct {
	Value any
	Err   error
}

type pendingQuery struct {
	id    uint64
	done  chan Result // Buffered 1; receives exactly one Result
	timer *time.Timer
}

// pendingTable tracks outbound queries awaiting a response. Whoever removes
// an entry from the map owns its resolution, so each entry resolves exactly
// once whether by response, timeout, cancellation or closure.
type pendingTable struct {
	mu      sync.Mutex
	nextID  uint64
	entries map[uint64]*pendingQuery
	closed  error // Set once; refuses new registrations
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[uint64]*pendingQuery)}
}

// register allocates the next correlation id and inserts its entry in one
// step, so a response can never arrive for an id not yet in the table.
func (t *pendingTable) register(timeout time.Duration) (*pendingQuery, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed != nil {
		return nil, t.closed
	}
	for {
		t.nextID++
		if _, taken := t.entries[t.nextID]; !taken && t.nextID != 0 {
			break
		}
	}
	q := &pendingQuery{id: t.nextID, done: make(chan Result, 1)}
	if timeout > 0 {
		id := q.id
		q.timer = time.AfterFunc(timeout, func() {
			if t.resolve(id, Result{Err: ErrQueryTimeout}) {
				queryTimeoutsTotal.Inc()
			}
		})
	}
	t.entries[q.id] = q
	pendingQueries.Inc()
	return q, nil
}

// resolve removes id and delivers r to its waiter. It returns false when no
// such entry is pending.
func (t *pendingTable) resolve(id uint64, r Result) bool {
	t.mu.Lock()
	q, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	q.finish(r)
	return true
}

// closeAll resolves every pending entry with err and refuses later
// registrations. It returns the number of entries resolved.
func (t *pendingTable) closeAll(err error) int {
	t.mu.Lock()
	if t.closed == nil {
		t.closed = err
	}
	entries := t.entries
	t.entries = make(map[uint64]*pendingQuery)
	t.mu.Unlock()

	for _, q := range entries {
		q.finish(Result{Err: err})
	}
	return len(entries)
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (q *pendingQuery) finish(r Result) {
	if q.timer != nil {
		q.timer.Stop()
	}
	pendingQueries.Dec()
	q.done <- r
}
