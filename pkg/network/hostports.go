package network

import (
	"fmt"
	"net"
)

// AllocatePort asks the OS for an unused TCP port on host and
// returns it, the way a Publisher socket picks its bind port when
// none is configured explicitly.
func AllocatePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("network: allocate port on %s: %w", host, err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// ResolveHost returns host unless it is empty, in which case it
// returns "0.0.0.0" so bind calls default to all interfaces.
func ResolveHost(host string) string {
	if host == "" {
		return "0.0.0.0"
	}
	return host
}
