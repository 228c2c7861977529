// Package loadbalance picks which advertised treemap server a client connects to.
//
// Three strategies are implemented:
//   - RoundRobin:      spread connections evenly
//   - WeightedRandom:  favor instances with a higher advertised weight
//   - ConsistentHash:  pin a client key (host name, user) to one instance
package loadbalance

import (
	"fmt"

	"treemap/registry"
)

// Balancer selects a target instance. Pick must be goroutine-safe.
type Balancer interface {
	Pick(instances []registry.Instance) (*registry.Instance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer registered under name: "roundrobin", "weighted" or
// "hash". key is only used by "hash".
func New(name, key string) (Balancer, error) {
	switch name {
	case "", "roundrobin":
		return &RoundRobinBalancer{}, nil
	case "weighted":
		return &WeightedRandomBalancer{}, nil
	case "hash":
		return NewConsistentHashBalancer().Keyed(key), nil
	default:
		return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
	}
}
