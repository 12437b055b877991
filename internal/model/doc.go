// Package model defines the domain types and value objects for the
// jenkins-up CLI.
//
// This package contains pure data structures with no external dependencies.
// All entities (ResourceState, ContainerSpec, StackStatus, etc.) are
// transient representations of resources owned by the Docker daemon,
// reconstructed from API queries at runtime — there are no persistent
// state files.
//
// The package also defines exit codes (ExitCode) and a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling.
package model
