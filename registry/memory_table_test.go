package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTable(t *testing.T) {
	ctx := context.Background()
	tbl := NewMemoryTable()

	e1 := RouteEntry{Address: "bob@host", Link: "b"}
	e2 := RouteEntry{Address: "bob@host", Link: "a"}
	e3 := RouteEntry{Address: "carol@host", Link: "a"}
	for _, e := range []RouteEntry{e1, e2, e3} {
		require.NoError(t, tbl.Register(ctx, e, 0))
	}

	got, err := tbl.Lookup(ctx, "bob@host")
	require.NoError(t, err)
	assert.Equal(t, []RouteEntry{e2, e1}, got)

	require.NoError(t, tbl.Deregister(ctx, e1))
	all, err := tbl.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []RouteEntry{e2, e3}, all)
}

func TestMemoryTableWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tbl := NewMemoryTable()
	updates := tbl.Watch(ctx)

	e := RouteEntry{Address: "bob@host", Link: "a"}
	require.NoError(t, tbl.Register(ctx, e, 0))
	require.NoError(t, tbl.Deregister(ctx, e))
	require.NoError(t, tbl.Register(ctx, e, 0))

	// Only the newest snapshot is kept for a slow watcher.
	select {
	case snap := <-updates:
		assert.Equal(t, []RouteEntry{e}, snap)
	case <-time.After(time.Second):
		t.Fatal("no snapshot")
	}

	cancel()
	select {
	case _, ok := <-updates:
		assert.False(t, ok, "channel closes with the context")
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed")
	}
}
