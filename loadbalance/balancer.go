// Package loadbalance picks one emulator instance among those registered under a service name.
//
// Two strategies are implemented:
//   - RoundRobin:     spread sessions evenly across equivalent emulators (e.g. a test farm)
//   - WeightedRandom: favor instances on faster hosts
package loadbalance

import (
	"citra-rpc/registry"
	"errors"
	"fmt"
)

var (
	// ErrNoInstances is returned by Pick when the instance list is empty.
	ErrNoInstances = errors.New("no instances available")

	ErrUnknownBalancer = errors.New("unknown balancer")
)

// Balancer is the interface for load balancing strategies.
type Balancer interface {
	// Pick selects one instance from the available list. Must be goroutine-safe.
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// ByName returns the balancer for a configured strategy name. An empty name selects round-robin.
func ByName(name string) (Balancer, error) {
	switch name {
	case "", "round-robin", "roundrobin", "RoundRobin":
		return &RoundRobinBalancer{}, nil
	case "weighted", "weighted-random", "WeightedRandom":
		return &WeightedRandomBalancer{}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownBalancer, name)
	}
}
