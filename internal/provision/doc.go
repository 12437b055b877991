// Package provision implements the ordered provisioning procedure for
// the Jenkins + Docker-in-Docker stack.
//
// Provisioning is a single linear sequence of idempotent checks and
// imperative Docker operations:
//
//	preconditions → network → container names → image build →
//	DinD launch → Jenkins launch
//
// Each step blocks until its Docker operation completes and any failure
// aborts the whole procedure. Nothing is retried, and resources created
// by earlier steps are deliberately left in place for inspection —
// Teardown is the explicit remediation path.
//
// The Provisioner runs against the Engine interface rather than the
// Docker SDK directly, so the sequencing and abort semantics are testable
// without a daemon.
package provision
