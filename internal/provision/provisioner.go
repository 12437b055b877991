package provision

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"

	"github.com/mmr-tortoise/jenkins-up/internal/config"
	"github.com/mmr-tortoise/jenkins-up/internal/logging"
	"github.com/mmr-tortoise/jenkins-up/internal/model"
	"github.com/mmr-tortoise/jenkins-up/internal/port"
)

// Fixed container-side values. The images hard-code these: the DinD
// image generates TLS material under /certs and listens on 2376, and the
// Jenkins image serves the UI on 8080, inbound agents on 50000, with its
// home at /var/jenkins_home. Only the host side of each mapping is
// configurable.
const (
	dindAlias     = "docker"
	certsDir      = "/certs"
	certsClient   = "/certs/client"
	jenkinsHome   = "/var/jenkins_home"
	dindPort      = 2376
	jenkinsWeb    = 8080
	jenkinsAgents = 50000
)

// Engine is the set of Docker operations the provisioner sequences.
// *docker.Engine is the production implementation; tests substitute a
// fake to verify ordering and abort behavior.
type Engine interface {
	Ping(ctx context.Context) error

	NetworkExists(ctx context.Context, name string) (bool, error)
	CreateNetwork(ctx context.Context, name string) error
	RemoveNetwork(ctx context.Context, name string) error

	ContainerState(ctx context.Context, name string) (model.ResourceState, error)
	RemoveContainer(ctx context.Context, name string) error

	ImageExists(ctx context.Context, ref string) (bool, error)
	BuildImage(ctx context.Context, contextDir, tag string) error
	PullImage(ctx context.Context, ref string) error
	RunContainer(ctx context.Context, spec model.ContainerSpec) error

	VolumeExists(ctx context.Context, name string) (bool, error)
	RemoveVolume(ctx context.Context, name string) error
}

// PortScanner checks host port occupancy. *port.Scanner is the
// production implementation.
type PortScanner interface {
	InUse(ports []int) []int
}

// Confirmer asks the operator a yes/no question and reports the answer.
// Implementations must default to "no" on empty input.
type Confirmer func(question string) (bool, error)

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithConfirm sets the interactive confirmation function.
func WithConfirm(confirm Confirmer) Option {
	return func(p *Provisioner) { p.confirm = confirm }
}

// WithPorts sets the port scanner.
func WithPorts(ports PortScanner) Option {
	return func(p *Provisioner) { p.ports = ports }
}

// WithOutput sets the writer for operator-facing progress messages.
func WithOutput(out io.Writer) Option {
	return func(p *Provisioner) { p.out = out }
}

// WithLogger sets the debug logger.
func WithLogger(logger *log.Logger) Option {
	return func(p *Provisioner) { p.log = logger }
}

// Provisioner drives the provisioning sequence against an Engine.
// A Provisioner is single-use per command invocation and is not safe for
// concurrent use; the procedure is strictly sequential by design.
type Provisioner struct {
	cfg     *config.Config
	engine  Engine
	ports   PortScanner
	confirm Confirmer
	out     io.Writer
	log     *log.Logger

	step model.Step
}

// New creates a Provisioner with the given configuration and engine.
// Without options, prompts resolve to "no", ports are scanned via
// net.Listen, and progress goes to stdout.
func New(cfg *config.Config, engine Engine, opts ...Option) *Provisioner {
	p := &Provisioner{
		cfg:    cfg,
		engine: engine,
		ports:  port.NewScanner(),
		confirm: func(string) (bool, error) {
			return false, nil
		},
		out:  os.Stdout,
		log:  logging.Logger(),
		step: model.StepInit,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Step returns the last step the procedure reached. After a successful
// Up it is StepDone; after any failure it is StepAborted.
func (p *Provisioner) Step() model.Step {
	return p.step
}

// Up runs the full provisioning sequence. On success the stack is
// running and the completion message has been written. On failure the
// returned error carries exit code 1 and resources created by earlier
// steps remain in place.
func (p *Provisioner) Up(ctx context.Context) error {
	p.step = model.StepInit

	if err := p.checkPreconditions(ctx); err != nil {
		return p.abort(err)
	}
	p.step = model.StepChecked

	if err := p.reconcileNetwork(ctx); err != nil {
		return p.abort(err)
	}
	p.step = model.StepNetworkReady

	if err := p.reconcileContainers(ctx); err != nil {
		return p.abort(err)
	}
	if err := p.verifyPortsFree(); err != nil {
		return p.abort(err)
	}
	p.step = model.StepContainersClear

	if err := p.buildImage(ctx); err != nil {
		return p.abort(err)
	}
	p.step = model.StepImageBuilt

	if err := p.launchDinD(ctx); err != nil {
		return p.abort(err)
	}
	p.step = model.StepDinDRunning

	if err := p.launchJenkins(ctx); err != nil {
		return p.abort(err)
	}
	p.step = model.StepJenkinsRunning

	fmt.Fprintf(p.out, "\nDone. Jenkins is starting at http://localhost:%d\n", p.cfg.WebPort)
	fmt.Fprintf(p.out, "The initial admin password is written to %s/secrets/initialAdminPassword inside the %q container.\n",
		jenkinsHome, p.cfg.JenkinsContainer)

	p.step = model.StepDone
	return nil
}

// abort records the terminal state and passes the error through. Earlier
// steps' side effects are left in place so the operator can inspect them.
func (p *Provisioner) abort(err error) error {
	p.step = model.StepAborted
	p.log.Debug("provisioning aborted", "err", err)
	return err
}

// checkPreconditions verifies the daemon is reachable and every required
// host port is free. It runs before any mutation, so a failure here
// leaves the daemon completely untouched.
//
// When a managed container already exists, its published ports have
// docker-proxy listeners on the host, so an occupied port is not
// necessarily a foreign process. In that case the abort is deferred:
// container reconciliation will prompt for the container's removal, and
// verifyPortsFree re-checks once the listeners it held are gone.
func (p *Provisioner) checkPreconditions(ctx context.Context) error {
	p.log.Debug("pinging Docker daemon")
	if err := p.engine.Ping(ctx); err != nil {
		return err
	}

	required := p.cfg.RequiredPorts()
	p.log.Debug("checking required host ports", "ports", required)
	used := p.ports.InUse(required)
	if len(used) == 0 {
		return nil
	}

	exists, err := p.managedContainerExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		p.log.Debug("ports held while managed containers exist, re-checking after reconciliation", "ports", used)
		return nil
	}

	return portsInUseError(used)
}

// managedContainerExists reports whether either managed container is
// present on the daemon in any state. Read-only.
func (p *Provisioner) managedContainerExists(ctx context.Context) (bool, error) {
	for _, name := range []string{p.cfg.DinDContainer, p.cfg.JenkinsContainer} {
		state, err := p.engine.ContainerState(ctx, name)
		if err != nil {
			return false, err
		}
		if state.Exists() {
			return true, nil
		}
	}
	return false, nil
}

// verifyPortsFree re-checks the required ports after container
// reconciliation. Pre-existing managed containers and their docker-proxy
// listeners are gone by now, so anything still listening is a foreign
// process and the launches ahead would fail to bind.
func (p *Provisioner) verifyPortsFree() error {
	if used := p.ports.InUse(p.cfg.RequiredPorts()); len(used) > 0 {
		return portsInUseError(used)
	}
	return nil
}

func portsInUseError(used []int) error {
	return model.NewCLIError(model.ExitFailure,
		fmt.Sprintf("required ports already in use: %v — stop the processes listening on them and re-run", used))
}

// reconcileNetwork ensures the bridge network exists. An existing network
// is recreated only with the operator's consent; a declined recreation
// keeps the network and is not an error.
func (p *Provisioner) reconcileNetwork(ctx context.Context) error {
	name := p.cfg.Network

	exists, err := p.engine.NetworkExists(ctx, name)
	if err != nil {
		return err
	}

	if exists {
		recreate, err := p.confirm(fmt.Sprintf("Network %q already exists. Delete and recreate it?", name))
		if err != nil {
			return model.WrapCLIError(model.ExitFailure, "failed to read confirmation", err)
		}
		if !recreate {
			p.log.Debug("keeping existing network", "network", name)
			fmt.Fprintf(p.out, "Keeping existing network %q.\n", name)
			return nil
		}

		p.log.Debug("removing network", "network", name)
		if err := p.engine.RemoveNetwork(ctx, name); err != nil {
			return err
		}
	}

	p.log.Debug("creating network", "network", name)
	fmt.Fprintf(p.out, "Creating network %q...\n", name)
	return p.engine.CreateNetwork(ctx, name)
}

// reconcileContainers ensures neither managed container name is taken.
// A pre-existing container is removed with the operator's consent; a
// declined removal is fatal — the procedure cannot proceed with a name
// collision.
func (p *Provisioner) reconcileContainers(ctx context.Context) error {
	for _, name := range []string{p.cfg.DinDContainer, p.cfg.JenkinsContainer} {
		state, err := p.engine.ContainerState(ctx, name)
		if err != nil {
			return err
		}
		if !state.Exists() {
			continue
		}

		remove, err := p.confirm(fmt.Sprintf("Container %q already exists (%s). Remove it?", name, state))
		if err != nil {
			return model.WrapCLIError(model.ExitFailure, "failed to read confirmation", err)
		}
		if !remove {
			return model.NewCLIError(model.ExitFailure,
				fmt.Sprintf("container name %q is already in use — remove the container or answer yes to proceed", name))
		}

		p.log.Debug("removing container", "container", name, "state", state)
		fmt.Fprintf(p.out, "Removing container %q...\n", name)
		if err := p.engine.RemoveContainer(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// buildImage builds the Jenkins image from the configured context. The
// image is always rebuilt, even when the tag already exists.
func (p *Provisioner) buildImage(ctx context.Context) error {
	fmt.Fprintf(p.out, "Building image %q from %s...\n", p.cfg.ImageTag, p.cfg.BuildContext)
	p.log.Debug("building image", "tag", p.cfg.ImageTag, "context", p.cfg.BuildContext)
	return p.engine.BuildImage(ctx, p.cfg.BuildContext, p.cfg.ImageTag)
}

// launchDinD pulls the DinD image and starts the Docker-in-Docker
// container. The daemon inside it generates TLS client certificates into
// the shared certs volume, which the Jenkins container mounts read-only.
func (p *Provisioner) launchDinD(ctx context.Context) error {
	fmt.Fprintf(p.out, "Pulling image %q...\n", p.cfg.DinDImage)
	p.log.Debug("pulling image", "image", p.cfg.DinDImage)
	if err := p.engine.PullImage(ctx, p.cfg.DinDImage); err != nil {
		return err
	}

	fmt.Fprintf(p.out, "Starting container %q...\n", p.cfg.DinDContainer)
	p.log.Debug("starting DinD container", "container", p.cfg.DinDContainer)
	return p.engine.RunContainer(ctx, p.dindSpec())
}

// launchJenkins starts the Jenkins controller, wired to the DinD daemon
// over TLS via the network alias.
func (p *Provisioner) launchJenkins(ctx context.Context) error {
	fmt.Fprintf(p.out, "Starting container %q...\n", p.cfg.JenkinsContainer)
	p.log.Debug("starting Jenkins container", "container", p.cfg.JenkinsContainer)
	return p.engine.RunContainer(ctx, p.jenkinsSpec())
}

// dindSpec is the typed equivalent of the upstream docker run invocation
// for the DinD container: privileged, aliased as "docker" on the bridge
// network, generating TLS certs into the shared volume, and publishing
// the daemon TLS port.
func (p *Provisioner) dindSpec() model.ContainerSpec {
	return model.ContainerSpec{
		Name:         p.cfg.DinDContainer,
		Image:        p.cfg.DinDImage,
		Network:      p.cfg.Network,
		NetworkAlias: dindAlias,
		Env: []string{
			"DOCKER_TLS_CERTDIR=" + certsDir,
		},
		Ports: []model.PortMapping{
			{HostPort: p.cfg.DaemonPort, ContainerPort: dindPort},
		},
		Mounts: []model.VolumeMount{
			{Volume: p.cfg.CertsVolume, Target: certsClient},
			{Volume: p.cfg.DataVolume, Target: jenkinsHome},
		},
		Privileged: true,
		Cmd:        []string{"--storage-driver", "overlay2"},
	}
}

// jenkinsSpec is the typed equivalent of the upstream docker run
// invocation for the Jenkins controller. DOCKER_HOST points at the DinD
// container through its network alias; the TLS material under
// /certs/client is the client side of the certificates the DinD daemon
// generated.
func (p *Provisioner) jenkinsSpec() model.ContainerSpec {
	return model.ContainerSpec{
		Name:    p.cfg.JenkinsContainer,
		Image:   p.cfg.ImageTag,
		Network: p.cfg.Network,
		Env: []string{
			fmt.Sprintf("DOCKER_HOST=tcp://%s:%d", dindAlias, dindPort),
			"DOCKER_CERT_PATH=" + certsClient,
			"DOCKER_TLS_VERIFY=1",
		},
		Ports: []model.PortMapping{
			{HostPort: p.cfg.WebPort, ContainerPort: jenkinsWeb},
			{HostPort: p.cfg.AgentPort, ContainerPort: jenkinsAgents},
		},
		Mounts: []model.VolumeMount{
			{Volume: p.cfg.DataVolume, Target: jenkinsHome},
			{Volume: p.cfg.CertsVolume, Target: certsClient, ReadOnly: true},
		},
		RestartOnFailure: true,
	}
}

// TeardownReport lists what Teardown actually removed. Resources that
// were already absent are skipped silently and do not appear.
type TeardownReport struct {
	ContainersRemoved []string `json:"containersRemoved"`
	NetworkRemoved    bool     `json:"networkRemoved"`
	VolumesRemoved    []string `json:"volumesRemoved,omitempty"`
}

// Teardown removes the stack: both containers (force), the network, and,
// when removeVolumes is set, the two named volumes. It is the explicit
// remediation for a previously aborted Up; confirmation is the caller's
// responsibility.
func (p *Provisioner) Teardown(ctx context.Context, removeVolumes bool) (*TeardownReport, error) {
	report := &TeardownReport{}

	for _, name := range []string{p.cfg.JenkinsContainer, p.cfg.DinDContainer} {
		state, err := p.engine.ContainerState(ctx, name)
		if err != nil {
			return report, err
		}
		if !state.Exists() {
			continue
		}
		p.log.Debug("removing container", "container", name)
		if err := p.engine.RemoveContainer(ctx, name); err != nil {
			return report, err
		}
		report.ContainersRemoved = append(report.ContainersRemoved, name)
	}

	exists, err := p.engine.NetworkExists(ctx, p.cfg.Network)
	if err != nil {
		return report, err
	}
	if exists {
		p.log.Debug("removing network", "network", p.cfg.Network)
		if err := p.engine.RemoveNetwork(ctx, p.cfg.Network); err != nil {
			return report, err
		}
		report.NetworkRemoved = true
	}

	if removeVolumes {
		for _, name := range []string{p.cfg.CertsVolume, p.cfg.DataVolume} {
			exists, err := p.engine.VolumeExists(ctx, name)
			if err != nil {
				return report, err
			}
			if !exists {
				continue
			}
			p.log.Debug("removing volume", "volume", name)
			if err := p.engine.RemoveVolume(ctx, name); err != nil {
				return report, err
			}
			report.VolumesRemoved = append(report.VolumesRemoved, name)
		}
	}

	return report, nil
}

// Status takes a point-in-time snapshot of every managed resource.
func (p *Provisioner) Status(ctx context.Context) (*model.StackStatus, error) {
	status := &model.StackStatus{
		NetworkName: p.cfg.Network,
		ImageTag:    p.cfg.ImageTag,
	}

	var err error
	status.NetworkExists, err = p.engine.NetworkExists(ctx, p.cfg.Network)
	if err != nil {
		return nil, err
	}

	status.ImageExists, err = p.engine.ImageExists(ctx, p.cfg.ImageTag)
	if err != nil {
		return nil, err
	}

	for _, name := range []string{p.cfg.DinDContainer, p.cfg.JenkinsContainer} {
		state, err := p.engine.ContainerState(ctx, name)
		if err != nil {
			return nil, err
		}
		status.Containers = append(status.Containers, model.ContainerStatus{
			Name:  name,
			State: state,
		})
	}

	status.PortsInUse = p.ports.InUse(p.cfg.RequiredPorts())
	return status, nil
}
