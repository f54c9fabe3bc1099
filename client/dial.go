package client

import (
	"citra-rpc/loadbalance"
	"citra-rpc/registry"
	"citra-rpc/transport"
	"context"
	"fmt"
)

// Dial connects to an emulator at endpoint (see transport.Endpoint) and returns a Client on it.
func Dial(ctx context.Context, endpoint string, opts ...Option) (*Client, error) {
	conn, err := transport.DialZMQ(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return New(conn, opts...), nil
}

// DialService discovers the emulators registered under serviceName, picks one with bal
// and dials it.
func DialService(ctx context.Context, reg registry.Registry, bal loadbalance.Balancer, serviceName string, opts ...Option) (*Client, error) {
	instances, err := reg.Discover(ctx, serviceName)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", serviceName, err)
	}

	instance, err := bal.Pick(instances)
	if err != nil {
		return nil, fmt.Errorf("pick %s instance: %w", serviceName, err)
	}

	return Dial(ctx, instance.Addr, opts...)
}
