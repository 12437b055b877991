package model

import (
	"fmt"
	"regexp"
	"strings"
)

// ResourceState represents the existence state of an externally-owned
// Docker resource (container or network) as observed at query time.
// Containers move through all three states; networks and volumes only
// use StateAbsent and StateRunning ("present").
type ResourceState string

const (
	// StateAbsent indicates the resource does not exist on the daemon.
	StateAbsent ResourceState = "absent"

	// StateStopped indicates a container exists but is not running
	// (Docker states "created", "exited", "paused", "dead").
	StateStopped ResourceState = "stopped"

	// StateRunning indicates the container's main process is running.
	StateRunning ResourceState = "running"
)

// String returns the string representation of ResourceState.
// This method satisfies the fmt.Stringer interface, enabling
// human-readable output in CLI commands and logging.
func (s ResourceState) String() string {
	return string(s)
}

// Exists reports whether the resource is present on the daemon in any state.
func (s ResourceState) Exists() bool {
	return s == StateStopped || s == StateRunning
}

// ContainerStateFromDocker maps a Docker API container state string
// (e.g. "running", "exited", "created") to a ResourceState. Any state
// other than "running" means the container exists but is stopped.
func ContainerStateFromDocker(state string) ResourceState {
	if strings.ToLower(state) == "running" {
		return StateRunning
	}
	return StateStopped
}

// Step identifies a stage in the provisioning sequence. The sequence is a
// single path with no branching beyond interactive prompts:
//
//	StepInit → StepChecked → StepNetworkReady → StepContainersClear →
//	StepImageBuilt → StepDinDRunning → StepJenkinsRunning → StepDone
//
// Any step's failure transitions directly to StepAborted; no step is
// retried and no earlier step's side effects are rolled back.
type Step string

const (
	StepInit            Step = "INIT"
	StepChecked         Step = "CHECKED"
	StepNetworkReady    Step = "NETWORK_READY"
	StepContainersClear Step = "CONTAINERS_CLEAR"
	StepImageBuilt      Step = "IMAGE_BUILT"
	StepDinDRunning     Step = "DIND_RUNNING"
	StepJenkinsRunning  Step = "JENKINS_RUNNING"
	StepDone            Step = "DONE"
	StepAborted         Step = "ABORTED"
)

// String returns the string representation of Step.
func (s Step) String() string {
	return string(s)
}

// PortMapping is a single host-to-container published port. All mappings
// in this tool are TCP.
type PortMapping struct {
	// HostPort is the port published on the host machine (1-65535).
	HostPort int `json:"hostPort"`

	// ContainerPort is the port inside the container (1-65535).
	ContainerPort int `json:"containerPort"`
}

// Validate checks whether both port numbers are in the valid range.
func (p PortMapping) Validate() error {
	if p.HostPort < 1 || p.HostPort > 65535 {
		return fmt.Errorf("port mapping: host port %d out of range (1-65535)", p.HostPort)
	}
	if p.ContainerPort < 1 || p.ContainerPort > 65535 {
		return fmt.Errorf("port mapping: container port %d out of range (1-65535)", p.ContainerPort)
	}
	return nil
}

// String returns a human-readable representation of the port mapping.
// Format: "hostPort:containerPort", matching docker run --publish syntax.
func (p PortMapping) String() string {
	return fmt.Sprintf("%d:%d", p.HostPort, p.ContainerPort)
}

// VolumeMount attaches a named volume to a path inside a container.
// Named volumes are created implicitly by the daemon on first container
// start; this tool never creates them explicitly.
type VolumeMount struct {
	// Volume is the named volume to mount.
	Volume string `json:"volume"`

	// Target is the absolute mount path inside the container.
	Target string `json:"target"`

	// ReadOnly mounts the volume read-only when true.
	ReadOnly bool `json:"readOnly,omitempty"`
}

// Bind returns the mount in Docker bind syntax ("volume:/path" or
// "volume:/path:ro"), the format accepted by HostConfig.Binds.
func (m VolumeMount) Bind() string {
	bind := m.Volume + ":" + m.Target
	if m.ReadOnly {
		bind += ":ro"
	}
	return bind
}

// ContainerSpec describes a container to be created and started. It is the
// typed equivalent of a docker run invocation, consumed by the engine layer
// which translates it into Docker API Config/HostConfig/NetworkingConfig.
type ContainerSpec struct {
	// Name is the container name. Must be unique on the daemon.
	Name string `json:"name"`

	// Image is the image reference to run.
	Image string `json:"image"`

	// Network is the name of the bridge network to attach to.
	Network string `json:"network,omitempty"`

	// NetworkAlias is an additional DNS name for this container on the
	// attached network. Other containers on the same network resolve it.
	NetworkAlias string `json:"networkAlias,omitempty"`

	// Env holds environment variables in "KEY=value" form.
	Env []string `json:"env,omitempty"`

	// Ports lists the published port mappings.
	Ports []PortMapping `json:"ports,omitempty"`

	// Mounts lists the named volume mounts.
	Mounts []VolumeMount `json:"mounts,omitempty"`

	// Privileged grants extended privileges to the container.
	// Required for Docker-in-Docker, which needs to manage cgroups
	// and mount filesystems inside the container.
	Privileged bool `json:"privileged,omitempty"`

	// RestartOnFailure applies the "on-failure" restart policy.
	RestartOnFailure bool `json:"restartOnFailure,omitempty"`

	// Cmd overrides the image's default command.
	Cmd []string `json:"cmd,omitempty"`
}

// Validate checks the spec for the fields the engine cannot default.
func (s *ContainerSpec) Validate() error {
	if err := ValidateResourceName(s.Name); err != nil {
		return fmt.Errorf("container spec: %w", err)
	}
	if s.Image == "" {
		return fmt.Errorf("container spec %q: image must not be empty", s.Name)
	}
	for _, p := range s.Ports {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("container spec %q: %w", s.Name, err)
		}
	}
	return nil
}

// nameRegex validates Docker resource names: alphanumeric plus hyphens,
// underscores and dots, starting with an alphanumeric character. This is
// the subset of Docker's own naming rules that all defaults satisfy.
var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// ValidateResourceName checks if the given name is valid for a Docker
// container, network or volume.
func ValidateResourceName(name string) error {
	if name == "" {
		return fmt.Errorf("resource name must not be empty")
	}
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("invalid resource name %q: must start with an alphanumeric character and contain only alphanumerics, hyphens, underscores and dots", name)
	}
	return nil
}

// ContainerStatus pairs a container name with its observed state.
type ContainerStatus struct {
	Name  string        `json:"name"`
	State ResourceState `json:"state"`
}

// StackStatus is a point-in-time snapshot of every resource the tool
// manages, produced by the status command. It reflects daemon state at
// query time and may be stale immediately afterwards.
type StackStatus struct {
	// NetworkName and NetworkExists describe the bridge network.
	NetworkName   string `json:"networkName"`
	NetworkExists bool   `json:"networkExists"`

	// ImageTag and ImageExists describe the built Jenkins image.
	ImageTag    string `json:"imageTag"`
	ImageExists bool   `json:"imageExists"`

	// Containers holds the state of the DinD and Jenkins containers,
	// in that order.
	Containers []ContainerStatus `json:"containers"`

	// PortsInUse lists which of the required host ports currently have
	// a listener. A port held by our own running containers appears here
	// too — the status command reports, it does not judge.
	PortsInUse []int `json:"portsInUse,omitempty"`
}

// Running reports whether every managed container is in the running state.
func (s *StackStatus) Running() bool {
	if len(s.Containers) == 0 {
		return false
	}
	for _, c := range s.Containers {
		if c.State != StateRunning {
			return false
		}
	}
	return true
}

// ExitCode defines the CLI exit codes. The contract is deliberately
// narrow: 0 on full success, 1 on any failure — precondition failure,
// build failure, run failure, or a declined container removal.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitFailure indicates the procedure aborted. All failure classes
	// share this code so scripts only need to distinguish success.
	ExitFailure ExitCode = 1
)

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description, including a
	// remediation hint for the operator where one exists.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
