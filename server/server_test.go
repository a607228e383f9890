package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jmtp/broker"
	"jmtp/codec"
	"jmtp/message"
	"jmtp/registry"
	"jmtp/router"
)

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

func newTypes() *codec.Registry {
	types := codec.NewRegistry()
	codec.RegisterType[Args](types)
	codec.RegisterType[Reply](types)
	return types
}

func newArith() *router.Mux {
	mux := router.NewMux()
	router.HandleQuery(mux, func(ctx context.Context, from string, args Args) (any, error) {
		return Reply{Result: args.A + args.B}, nil
	})
	return mux
}

func startServer(t *testing.T, r *router.Router) *Server {
	t.Helper()
	svr := NewServer(r, newTypes(), broker.DefaultConfig())
	served := make(chan error, 1)
	go func() { served <- svr.Serve("tcp", "127.0.0.1:0") }()
	svr.Addr()

	t.Cleanup(func() {
		assert.NoError(t, svr.Shutdown(2*time.Second))
		assert.NoError(t, <-served)
	})
	return svr
}

// dialLink connects a client-side Broker to svr.
func dialLink(t *testing.T, svr *Server, r *router.Router) (*broker.Broker, net.Conn) {
	t.Helper()
	if r == nil {
		r = router.New(nil)
	}
	conn, err := net.Dial("tcp", svr.Addr().String())
	require.NoError(t, err)
	b := broker.New(conn, r, newTypes(), broker.DefaultConfig())
	b.Start()
	t.Cleanup(func() { b.Close() })
	return b, conn
}

func TestServerAnswersQueries(t *testing.T) {
	r := router.New(nil)
	r.Handle("arith@server", newArith())
	svr := startServer(t, r)
	b, _ := dialLink(t, svr, nil)

	cases := []struct{ a, b, expect int }{
		{1, 2, 3},
		{10, 20, 30},
		{100, 200, 300},
	}
	for _, tc := range cases {
		reply, err := b.QueryGet(context.Background(), "arith@server", "alice@client", Args{A: tc.a, B: tc.b})
		require.NoError(t, err)
		assert.Equal(t, Reply{Result: tc.expect}, reply)
	}

	_, err := b.QuerySet(context.Background(), "nobody@server", "alice@client", Args{})
	var appErr *message.Error
	require.True(t, errors.As(err, &appErr), "got %v", err)
	assert.Equal(t, message.GroupItemNotFound, appErr.Group)
}

func TestServerForwardsBetweenLinks(t *testing.T) {
	r := router.New(nil)
	svr := startServer(t, r)

	got := make(chan *message.Frame, 1)
	bobRouter := router.New(nil)
	bobRouter.HandleFunc("bob@b",
		func(ctx context.Context, f *message.Frame) { got <- f },
		func(ctx context.Context, f *message.Frame) (any, error) { return "hello " + f.Payload.(string), nil },
	)
	_, bobConn := dialLink(t, svr, bobRouter)
	alice, _ := dialLink(t, svr, nil)

	// The server names each inbound link after its remote address.
	bobLink := bobConn.LocalAddr().String()
	require.Eventually(t, func() bool {
		_, ok := r.Link(bobLink)
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	r.Route("bob@b", bobLink)

	reply, err := alice.QueryGet(context.Background(), "bob@b", "alice@a", "alice")
	require.NoError(t, err)
	assert.Equal(t, "hello alice", reply)

	require.NoError(t, alice.Message("bob@b", "alice@a", "hi"))
	select {
	case f := <-got:
		assert.Equal(t, "alice@a", f.From)
		assert.Equal(t, "hi", f.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("message was not forwarded")
	}
}

func TestShutdownClosesLinks(t *testing.T) {
	r := router.New(nil)
	entered := make(chan struct{})
	r.HandleFunc("slow@server", nil, func(ctx context.Context, f *message.Frame) (any, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	svr := NewServer(r, nil, broker.DefaultConfig())
	served := make(chan error, 1)
	go func() { served <- svr.Serve("tcp", "127.0.0.1:0") }()
	b, _ := dialLink(t, svr, nil)

	call, err := b.Go(message.CmdGet, "slow@server", "alice@client", nil, 0)
	require.NoError(t, err)
	<-entered
	assert.Equal(t, 1, svr.Links())

	require.NoError(t, svr.Shutdown(2*time.Second))
	assert.NoError(t, <-served)
	assert.Equal(t, 0, svr.Links())

	_, err = call.Wait(context.Background())
	assert.True(t, errors.Is(err, broker.ErrLinkClosed), "got %v", err)
	<-b.Done()
	assert.NoError(t, b.Err(), "server closed the stream cleanly")
}

func TestAdvertiseRoutes(t *testing.T) {
	r := router.New(nil)
	r.Handle("arith@server", newArith())
	table := registry.NewMemoryTable()

	svr := NewServer(r, nil, broker.DefaultConfig())
	svr.Advertise(table, "10.0.0.1:7000", 10)
	served := make(chan error, 1)
	go func() { served <- svr.Serve("tcp", "127.0.0.1:0") }()

	want := []registry.RouteEntry{{Address: "arith@server", Link: "10.0.0.1:7000"}}
	assert.Eventually(t, func() bool {
		entries, _ := table.List(context.Background())
		return assert.ObjectsAreEqual(want, entries)
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, svr.Shutdown(time.Second))
	require.NoError(t, <-served)
	entries, err := table.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}
