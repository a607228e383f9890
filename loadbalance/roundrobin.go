package loadbalance

import (
	"sync/atomic"
)

// RoundRobinBalancer cycles through the candidate links in order. It uses an
// atomic counter, so Pick never blocks.
type RoundRobinBalancer struct {
	counter atomic.Uint64
}

func (b *RoundRobinBalancer) Pick(links []string, _ string) (string, error) {
	if len(links) == 0 {
		return "", ErrNoLinks
	}
	index := (b.counter.Add(1) - 1) % uint64(len(links))
	return links[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
