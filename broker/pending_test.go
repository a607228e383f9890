package broker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingIDsAreUniqueUnderConcurrency(t *testing.T) {
	table := newPendingTable()

	const callers = 64
	ids := make(chan uint64, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q, err := table.register(0)
			assert.NoError(t, err)
			ids <- q.id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, callers)
	assert.Equal(t, callers, table.len())
}

func TestPendingResolvesExactlyOnce(t *testing.T) {
	table := newPendingTable()
	q, err := table.register(0)
	require.NoError(t, err)

	assert.True(t, table.resolve(q.id, Result{Value: 1}))
	assert.False(t, table.resolve(q.id, Result{Value: 2}), "second outcome is unmatched")
	assert.Equal(t, 0, table.closeAll(ErrLinkClosed), "resolved entries are gone")

	r := <-q.done
	assert.Equal(t, 1, r.Value)
	select {
	case r := <-q.done:
		t.Fatalf("unexpected second outcome %+v", r)
	default:
	}
}

func TestPendingTimeout(t *testing.T) {
	table := newPendingTable()
	q, err := table.register(20 * time.Millisecond)
	require.NoError(t, err)

	select {
	case r := <-q.done:
		assert.Equal(t, ErrQueryTimeout, r.Err)
	case <-time.After(time.Second):
		t.Fatal("query did not time out")
	}
	assert.Equal(t, 0, table.len())
	assert.False(t, table.resolve(q.id, Result{Value: "late"}))
}

func TestPendingCloseAll(t *testing.T) {
	table := newPendingTable()
	var queries []*pendingQuery
	for i := 0; i < 5; i++ {
		q, err := table.register(time.Hour)
		require.NoError(t, err)
		queries = append(queries, q)
	}

	assert.Equal(t, 5, table.closeAll(ErrLinkClosed))
	for _, q := range queries {
		r := <-q.done
		assert.Equal(t, ErrLinkClosed, r.Err)
	}

	_, err := table.register(0)
	assert.Equal(t, ErrLinkClosed, err, "closed tables refuse registrations")
}
