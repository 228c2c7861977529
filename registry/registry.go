// Package registry advertises treemap servers and discovers them.
//
// A server registers one Instance per listening endpoint under a service name;
// clients such as treectl discover the instances and pick one with a balancer.
package registry

import (
	"context"
	"errors"
)

// ServiceName is the name treemap servers register under.
const ServiceName = "treemap"

// ErrNoInstances is returned when discovery finds nothing to connect to.
var ErrNoInstances = errors.New("registry: no instances available")

// Instance is one reachable server endpoint.
type Instance struct {
	Addr      string `json:"addr"`      // host:port for stream, full URL for websocket
	Transport string `json:"transport"` // "websocket" or "stream"
	Codec     string `json:"codec,omitempty"`
	Weight    int    `json:"weight"`  // Weight for load balancing
	Version   string `json:"version"` // Protocol version the server speaks
}

type Registry interface {
	Register(ctx context.Context, serviceName string, instance Instance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]Instance, error)
	Watch(ctx context.Context, serviceName string) <-chan []Instance
}

// Filter returns the instances reachable over transport.
func Filter(instances []Instance, transport string) []Instance {
	out := make([]Instance, 0, len(instances))
	for _, inst := range instances {
		if inst.Transport == transport {
			out = append(out, inst)
		}
	}
	return out
}
