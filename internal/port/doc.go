// Package port implements host port availability scanning for the
// jenkins-up CLI.
//
// Provisioning publishes three host ports (daemon TLS, web UI, inbound
// agents), and the precondition check requires all of them to be free
// before any Docker resource is touched. The Scanner verifies OS-level
// availability via net.Listen(), asking the network stack directly rather
// than parsing /proc/net/* or shelling out to tools like lsof or ss.
package port
