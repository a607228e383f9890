// Package transport dials the streams that broker links run over.
//
// A link has no heartbeat frame of its own, so dead peers are detected with
// TCP keepalive, and a Dialer can keep retrying an unreachable peer with
// exponential backoff:
//
//	DialRetry(addr): dial ──fail──→ sleep 100ms ──→ dial ──fail──→ sleep 200ms ──→ ... (capped at MaxBackoff)
package transport

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Dialer opens connections to peer brokers. The zero value dials TCP with
// the defaults below.
type Dialer struct {
	Network    string        // Defaults to "tcp"
	Timeout    time.Duration // Per-attempt dial timeout; defaults to 5s
	KeepAlive  time.Duration // TCP keepalive period; defaults to 30s
	MinBackoff time.Duration // First retry delay; defaults to 100ms
	MaxBackoff time.Duration // Retry delay cap; defaults to 10s

	// dial replaces the network dial in tests.
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

func (d *Dialer) network() string {
	if d.Network == "" {
		return "tcp"
	}
	return d.Network
}

// Dial makes a single attempt to connect to addr.
func (d *Dialer) Dial(ctx context.Context, addr string) (net.Conn, error) {
	dial := d.dial
	if dial == nil {
		nd := &net.Dialer{
			Timeout:   orDefault(d.Timeout, 5*time.Second),
			KeepAlive: orDefault(d.KeepAlive, 30*time.Second),
		}
		dial = nd.DialContext
	}
	conn, err := dial(ctx, d.network(), addr)
	if err != nil {
		return nil, errors.WithMessagef(err, "dial %s", addr)
	}
	return conn, nil
}

// DialRetry dials addr until it succeeds or ctx is done, backing off
// exponentially between attempts.
func (d *Dialer) DialRetry(ctx context.Context, addr string) (net.Conn, error) {
	backoff := orDefault(d.MinBackoff, 100*time.Millisecond)
	maxBackoff := orDefault(d.MaxBackoff, 10*time.Second)

	for attempt := 1; ; attempt++ {
		conn, err := d.Dial(ctx, addr)
		if err == nil {
			return conn, nil
		}
		log.WithFields(log.Fields{"addr": addr, "attempt": attempt, "err": err}).Warn("dial failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
