// Package registry lets emulator servers announce themselves and clients find them.
//
// An emulator instance registers under a service name (for example the title it is
// running, or a test farm label) with the ZeroMQ endpoint it listens on.
package registry

import "context"

type ServiceInstance struct {
	Addr    string // ZeroMQ endpoint, e.g. "tcp://10.0.0.5:45987"
	Weight  int    // Weight for load balancing
	Version string // Emulator build
}

type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}
