package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jmtp/codec"
	"jmtp/message"
	"jmtp/registry"
)

func parse(t *testing.T, args ...string) *Config {
	t.Helper()
	cfg := new(Config)
	parser := newParser(cfg)
	_, err := parser.ParseArgs(args)
	require.NoError(t, err)
	return cfg
}

func TestConfigDefaults(t *testing.T) {
	cfg := parse(t)
	assert.Equal(t, ":7000", cfg.Server.Listen)
	assert.Equal(t, 30*time.Second, cfg.Server.QueryTimeout)
	assert.Equal(t, "round-robin", cfg.Routes.Balancer)
	assert.Equal(t, registry.DefaultPrefix, cfg.Etcd.Prefix)
	assert.Equal(t, "info", cfg.Log.Level)

	bc, err := cfg.brokerConfig()
	require.NoError(t, err)
	assert.Equal(t, codec.CodecTypeJSON, bc.CodecType)
	assert.Equal(t, int64(1024), bc.MaxInflightQueries)
	assert.Equal(t, 16<<20, bc.Limits.MaxFrameBytes)
}

func TestConfigFlagsAndEnv(t *testing.T) {
	t.Setenv("JMTPD_SERVER_LISTEN", "127.0.0.1:9000")
	t.Setenv("JMTPD_ROUTES_PEERS", "10.0.0.1:7000,10.0.0.2:7000")

	cfg := parse(t,
		"--server.codec=jsoniter",
		"--server.query-timeout=2s",
		"--routes.route=bob@b=10.0.0.2:7000",
		"--routes.route=carol@c=10.0.0.1:7000",
		"--log.level=debug",
	)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Listen)
	assert.Equal(t, []string{"10.0.0.1:7000", "10.0.0.2:7000"}, cfg.Routes.Peers)
	assert.Equal(t, []string{"bob@b=10.0.0.2:7000", "carol@c=10.0.0.1:7000"}, cfg.Routes.Static)

	bc, err := cfg.brokerConfig()
	require.NoError(t, err)
	assert.Equal(t, codec.CodecTypeJSONIter, bc.CodecType)
	assert.Equal(t, 2*time.Second, bc.QueryTimeout)
	assert.NoError(t, initLog(cfg.Log))
}

func TestConfigRejectsUnknownChoice(t *testing.T) {
	cfg := new(Config)
	parser := newParser(cfg)
	parser.Options = 0
	_, err := parser.ParseArgs([]string{"--server.codec=xml"})
	assert.Error(t, err)
}

func TestParseRoute(t *testing.T) {
	entry, err := parseRoute(" bob@b = 10.0.0.2:7000 ")
	require.NoError(t, err)
	assert.Equal(t, registry.RouteEntry{Address: "bob@b", Link: "10.0.0.2:7000"}, entry)

	for _, bad := range []string{"", "bob@b", "=link", "bob@b="} {
		_, err := parseRoute(bad)
		assert.Error(t, err, bad)
	}
}

func TestBuildRouter(t *testing.T) {
	cfg := parse(t,
		"--routes.route=bob@b=peer-b",
		"--routes.default=peer-default",
		"--routes.echo=echo@local",
	)
	r, err := cfg.buildRouter()
	require.NoError(t, err)
	assert.Equal(t, []string{"echo@local"}, r.Addresses())

	target, ok := r.Resolve("echo@local", "alice@a")
	require.True(t, ok)
	value, err := target.Handler.HandleQuery(context.Background(), &message.Frame{Command: message.CmdGet, Payload: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "ping", value)

	// Routes name links that are not connected yet.
	_, ok = r.Resolve("bob@b", "alice@a")
	assert.False(t, ok)

	cfg.Routes.Static = []string{"broken"}
	_, err = cfg.buildRouter()
	assert.Error(t, err)
}

func TestEchoRepliesToLocalSender(t *testing.T) {
	cfg := parse(t, "--routes.echo=echo@local")
	r, err := cfg.buildRouter()
	require.NoError(t, err)

	got := make(chan *message.Frame, 1)
	r.HandleFunc("alice@local", func(ctx context.Context, f *message.Frame) { got <- f }, nil)

	target, ok := r.Resolve("echo@local", "alice@local")
	require.True(t, ok)
	target.Handler.HandleMessage(context.Background(), &message.Frame{
		Command: message.CmdMessage, To: "echo@local", From: "alice@local", Payload: "hi",
	})

	f := <-got
	assert.Equal(t, "alice@local", f.To)
	assert.Equal(t, "echo@local", f.From)
	assert.Equal(t, "hi", f.Payload)
}
