/*
Package discovery declares the interface fleetgraph's Worker
registration would use to find a Manager automatically on the local
network. No implementation is provided: mDNS/Zeroconf discovery is
explicitly out of scope, left as an interface any future transport
can satisfy. Today a Worker is always pointed at a Manager address
via configuration or CLI flags.
*/
package discovery

import "context"

// ManagerAddress is a discovered Manager's reachable address.
type ManagerAddress struct {
	IP   string
	Port int
}

// Discoverer locates a Manager reachable from the local host.
// Implementations are expected to be cancelable via ctx and to
// return as soon as one candidate is found.
type Discoverer interface {
	Discover(ctx context.Context) (ManagerAddress, error)
}
