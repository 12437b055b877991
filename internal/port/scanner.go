package port

import (
	"fmt"
	"net"
)

// Scanner checks whether specific ports are available on the host machine.
//
// It uses the operating system's network stack (net.Listen) to determine
// if a port is free. This is the most reliable method because it asks the
// OS directly, and it needs no elevated permissions.
//
// The struct is currently stateless, but is defined as a struct (rather
// than bare functions) so that future options (e.g., bind address) can be
// added without breaking the API. It also makes the Scanner injectable as
// a dependency, which keeps the provisioner testable without binding real
// ports.
type Scanner struct{}

// NewScanner creates a new Scanner instance.
func NewScanner() *Scanner {
	return &Scanner{}
}

// IsAvailable checks whether a single TCP port is free on the host.
//
// It attempts net.Listen("tcp", ":port"). If the bind succeeds, the port
// is available — the listener is immediately closed. We bind to all
// interfaces (":port" rather than "127.0.0.1:port") because Docker
// publishes ports on 0.0.0.0, so the same address space must be checked
// to avoid false positives.
func (s *Scanner) IsAvailable(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	// Close immediately — we only needed to test availability, not
	// actually accept connections.
	defer func() { _ = listener.Close() }()
	return true
}

// InUse returns the subset of the given ports that currently have a
// listener, preserving input order. An empty result means every port
// is free.
func (s *Scanner) InUse(ports []int) []int {
	var used []int
	for _, p := range ports {
		if !s.IsAvailable(p) {
			used = append(used, p)
		}
	}
	return used
}
