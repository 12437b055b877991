// Package docker provides Docker Engine API wrappers for the jenkins-up
// CLI.
//
// This package handles:
//   - Docker client initialization with automatic socket detection
//     (Linux, macOS, Windows)
//   - Network lifecycle: inspect, create (bridge), remove
//   - Container lifecycle: named state lookup, create-and-start from a
//     typed spec, force removal
//   - Image operations: build from a local context, pull, inspect
//   - Volume removal for teardown
//
// The package uses github.com/docker/docker/client as the underlying
// Docker SDK, with version negotiation enabled for broad compatibility.
// The Engine type implements the provisioner's engine contract; every
// operation is a single imperative request against the daemon, which owns
// the resources and their concurrency control.
package docker
