// Package loadbalance chooses one link when an address is routed to several.
//
// Two strategies are implemented:
//   - RoundRobin:      spread traffic evenly across equivalent links
//   - ConsistentHash:  pin each sender to one link, keeping its frames ordered
package loadbalance

import "errors"

var ErrNoLinks = errors.New("loadbalance: no links available")

// Balancer is the interface for link selection strategies.
type Balancer interface {
	// Pick selects one link name from links. key is the sender address of the
	// frame being routed. Called for every routed frame; must be goroutine-safe.
	Pick(links []string, key string) (string, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// ByName returns the balancer for a strategy name, defaulting to round robin.
func ByName(name string) Balancer {
	if name == "consistent-hash" {
		return NewConsistentHashBalancer()
	}
	return &RoundRobinBalancer{}
}
