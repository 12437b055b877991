package provision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/jenkins-up/internal/config"
	"github.com/mmr-tortoise/jenkins-up/internal/model"
)

// fakeEngine is an in-memory Engine that records every operation in
// order and mutates a small resource model, so tests can assert both
// sequencing and final state without a Docker daemon.
type fakeEngine struct {
	calls []string

	networks   map[string]bool
	containers map[string]model.ResourceState
	volumes    map[string]bool
	images     map[string]bool

	// lastSpecs records RunContainer specs by container name.
	lastSpecs map[string]model.ContainerSpec

	// Error injection points.
	pingErr  error
	buildErr error
	pullErr  error
	runErr   map[string]error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		networks:   make(map[string]bool),
		containers: make(map[string]model.ResourceState),
		volumes:    make(map[string]bool),
		images:     make(map[string]bool),
		lastSpecs:  make(map[string]model.ContainerSpec),
		runErr:     make(map[string]error),
	}
}

func (f *fakeEngine) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeEngine) Ping(ctx context.Context) error {
	f.record("ping")
	return f.pingErr
}

func (f *fakeEngine) NetworkExists(ctx context.Context, name string) (bool, error) {
	f.record("network-exists %s", name)
	return f.networks[name], nil
}

func (f *fakeEngine) CreateNetwork(ctx context.Context, name string) error {
	f.record("create-network %s", name)
	f.networks[name] = true
	return nil
}

func (f *fakeEngine) RemoveNetwork(ctx context.Context, name string) error {
	f.record("remove-network %s", name)
	delete(f.networks, name)
	return nil
}

func (f *fakeEngine) ContainerState(ctx context.Context, name string) (model.ResourceState, error) {
	f.record("container-state %s", name)
	if state, ok := f.containers[name]; ok {
		return state, nil
	}
	return model.StateAbsent, nil
}

func (f *fakeEngine) RemoveContainer(ctx context.Context, name string) error {
	f.record("remove-container %s", name)
	delete(f.containers, name)
	return nil
}

func (f *fakeEngine) ImageExists(ctx context.Context, ref string) (bool, error) {
	f.record("image-exists %s", ref)
	return f.images[ref], nil
}

func (f *fakeEngine) BuildImage(ctx context.Context, contextDir, tag string) error {
	f.record("build %s", tag)
	if f.buildErr != nil {
		return f.buildErr
	}
	f.images[tag] = true
	return nil
}

func (f *fakeEngine) PullImage(ctx context.Context, ref string) error {
	f.record("pull %s", ref)
	if f.pullErr != nil {
		return f.pullErr
	}
	f.images[ref] = true
	return nil
}

func (f *fakeEngine) RunContainer(ctx context.Context, spec model.ContainerSpec) error {
	f.record("run %s", spec.Name)
	if err := f.runErr[spec.Name]; err != nil {
		return err
	}
	f.containers[spec.Name] = model.StateRunning
	f.lastSpecs[spec.Name] = spec
	for _, m := range spec.Mounts {
		f.volumes[m.Volume] = true
	}
	return nil
}

func (f *fakeEngine) VolumeExists(ctx context.Context, name string) (bool, error) {
	f.record("volume-exists %s", name)
	return f.volumes[name], nil
}

func (f *fakeEngine) RemoveVolume(ctx context.Context, name string) error {
	f.record("remove-volume %s", name)
	delete(f.volumes, name)
	return nil
}

// mutations returns the subset of recorded calls that change daemon
// state. Read-only queries (ping, exists, state) are filtered out.
func (f *fakeEngine) mutations() []string {
	var out []string
	for _, c := range f.calls {
		for _, prefix := range []string{"create", "remove", "build", "pull", "run"} {
			if strings.HasPrefix(c, prefix) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// fakePorts reports a fixed set of ports as occupied.
type fakePorts struct {
	used map[int]bool
}

func (f *fakePorts) InUse(ports []int) []int {
	var used []int
	for _, p := range ports {
		if f.used[p] {
			used = append(used, p)
		}
	}
	return used
}

// answer builds a Confirmer with a fixed answer that also records the
// questions asked.
func answer(yes bool, asked *[]string) Confirmer {
	return func(question string) (bool, error) {
		if asked != nil {
			*asked = append(*asked, question)
		}
		return yes, nil
	}
}

func newTestProvisioner(engine *fakeEngine, ports *fakePorts, confirm Confirmer, out *bytes.Buffer) *Provisioner {
	if ports == nil {
		ports = &fakePorts{used: map[int]bool{}}
	}
	if out == nil {
		out = &bytes.Buffer{}
	}
	return New(config.Default(), engine,
		WithPorts(ports),
		WithConfirm(confirm),
		WithOutput(out),
	)
}

// TestUp_CleanRun verifies the full procedure on a clean daemon: exit
// success, exactly one network, two running containers, operations in
// dependency order, and a completion message naming the UI address.
func TestUp_CleanRun(t *testing.T) {
	engine := newFakeEngine()
	var asked []string
	out := &bytes.Buffer{}

	p := newTestProvisioner(engine, nil, answer(true, &asked), out)
	require.NoError(t, p.Up(context.Background()))

	assert.Equal(t, model.StepDone, p.Step())
	assert.Empty(t, asked, "a clean run must not prompt")
	assert.Contains(t, out.String(), "http://localhost:8080")

	// Final state: one network, both containers running.
	assert.Equal(t, map[string]bool{"jenkins": true}, engine.networks)
	assert.Equal(t, model.StateRunning, engine.containers["jenkins-docker"])
	assert.Equal(t, model.StateRunning, engine.containers["jenkins-blueocean"])

	// Dependency order: network before any run, build before DinD run,
	// DinD before Jenkins.
	assert.Equal(t, []string{
		"create-network jenkins",
		"build myjenkins-blueocean:latest",
		"pull docker:dind",
		"run jenkins-docker",
		"run jenkins-blueocean",
	}, engine.mutations())
}

// TestUp_ContainerWiring verifies the container specs carry the TLS
// wiring between DinD and Jenkins: shared cert volume, network alias,
// and the DOCKER_* environment contract.
func TestUp_ContainerWiring(t *testing.T) {
	engine := newFakeEngine()
	p := newTestProvisioner(engine, nil, answer(true, nil), nil)
	require.NoError(t, p.Up(context.Background()))

	dind := engine.lastSpecs["jenkins-docker"]
	assert.True(t, dind.Privileged, "DinD must run privileged")
	assert.Equal(t, "jenkins", dind.Network)
	assert.Equal(t, "docker", dind.NetworkAlias)
	assert.Contains(t, dind.Env, "DOCKER_TLS_CERTDIR=/certs")
	assert.Contains(t, dind.Ports, model.PortMapping{HostPort: 2376, ContainerPort: 2376})
	assert.Contains(t, dind.Mounts, model.VolumeMount{Volume: "jenkins-docker-certs", Target: "/certs/client"})
	assert.Contains(t, dind.Mounts, model.VolumeMount{Volume: "jenkins-data", Target: "/var/jenkins_home"})

	jenkins := engine.lastSpecs["jenkins-blueocean"]
	assert.False(t, jenkins.Privileged)
	assert.True(t, jenkins.RestartOnFailure, "Jenkins must restart on failure")
	assert.Equal(t, "jenkins", jenkins.Network)
	assert.Contains(t, jenkins.Env, "DOCKER_HOST=tcp://docker:2376")
	assert.Contains(t, jenkins.Env, "DOCKER_CERT_PATH=/certs/client")
	assert.Contains(t, jenkins.Env, "DOCKER_TLS_VERIFY=1")
	assert.Contains(t, jenkins.Ports, model.PortMapping{HostPort: 8080, ContainerPort: 8080})
	assert.Contains(t, jenkins.Ports, model.PortMapping{HostPort: 50000, ContainerPort: 50000})
	assert.Contains(t, jenkins.Mounts, model.VolumeMount{Volume: "jenkins-docker-certs", Target: "/certs/client", ReadOnly: true})
}

// TestUp_PortOccupied verifies that an occupied required port aborts the
// procedure before any mutation occurs.
func TestUp_PortOccupied(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{name: "daemon port", port: 2376},
		{name: "web port", port: 8080},
		{name: "agent port", port: 50000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newFakeEngine()
			ports := &fakePorts{used: map[int]bool{tt.port: true}}

			p := newTestProvisioner(engine, ports, answer(true, nil), nil)
			err := p.Up(context.Background())
			require.Error(t, err)

			var cliErr *model.CLIError
			require.ErrorAs(t, err, &cliErr)
			assert.Equal(t, model.ExitFailure, cliErr.Code)
			assert.Contains(t, cliErr.Message, fmt.Sprintf("%d", tt.port))

			assert.Equal(t, model.StepAborted, p.Step())
			assert.Empty(t, engine.mutations(), "no mutation may happen before the port check passes")
		})
	}
}

// TestUp_PingFailure verifies an unreachable daemon aborts immediately.
func TestUp_PingFailure(t *testing.T) {
	engine := newFakeEngine()
	engine.pingErr = model.WrapCLIError(model.ExitFailure,
		"Docker daemon is not responding — is Docker running?", errors.New("connection refused"))

	p := newTestProvisioner(engine, nil, answer(true, nil), nil)
	err := p.Up(context.Background())
	require.Error(t, err)

	assert.Equal(t, model.StepAborted, p.Step())
	assert.Empty(t, engine.mutations())
}

// TestUp_NetworkExistsDeclined verifies that declining network
// recreation keeps the existing network and the procedure continues to
// completion.
func TestUp_NetworkExistsDeclined(t *testing.T) {
	engine := newFakeEngine()
	engine.networks["jenkins"] = true

	var asked []string
	p := newTestProvisioner(engine, nil, answer(false, &asked), nil)
	require.NoError(t, p.Up(context.Background()),
		"declining network recreation is not a failure")

	require.Len(t, asked, 1)
	assert.Contains(t, asked[0], "jenkins")

	assert.NotContains(t, engine.calls, "remove-network jenkins")
	assert.NotContains(t, engine.calls, "create-network jenkins")
	assert.True(t, engine.networks["jenkins"], "existing network must be left untouched")
	assert.Equal(t, model.StepDone, p.Step())
}

// TestUp_NetworkExistsAccepted verifies delete-and-recreate on consent.
func TestUp_NetworkExistsAccepted(t *testing.T) {
	engine := newFakeEngine()
	engine.networks["jenkins"] = true

	p := newTestProvisioner(engine, nil, answer(true, nil), nil)
	require.NoError(t, p.Up(context.Background()))

	assert.Contains(t, engine.calls, "remove-network jenkins")
	assert.Contains(t, engine.calls, "create-network jenkins")
	assert.True(t, engine.networks["jenkins"])
}

// TestUp_ContainerExistsDeclined verifies that declining container
// removal is fatal: exit 1, no image build and no container start.
func TestUp_ContainerExistsDeclined(t *testing.T) {
	for _, existing := range []string{"jenkins-docker", "jenkins-blueocean"} {
		t.Run(existing, func(t *testing.T) {
			engine := newFakeEngine()
			engine.containers[existing] = model.StateStopped

			p := newTestProvisioner(engine, nil, answer(false, nil), nil)
			err := p.Up(context.Background())
			require.Error(t, err)

			var cliErr *model.CLIError
			require.ErrorAs(t, err, &cliErr)
			assert.Equal(t, model.ExitFailure, cliErr.Code)
			assert.Contains(t, cliErr.Message, existing)

			for _, call := range engine.calls {
				assert.NotContains(t, call, "build", "declined removal must abort before the build")
				assert.NotContains(t, call, "run", "declined removal must abort before any container start")
			}
			assert.Equal(t, model.StepAborted, p.Step())
		})
	}
}

// TestUp_ContainerExistsAccepted verifies pre-existing containers are
// force-removed on consent and the run completes with exactly one
// instance of each.
func TestUp_ContainerExistsAccepted(t *testing.T) {
	engine := newFakeEngine()
	engine.containers["jenkins-docker"] = model.StateRunning
	engine.containers["jenkins-blueocean"] = model.StateStopped

	var asked []string
	p := newTestProvisioner(engine, nil, answer(true, &asked), nil)
	require.NoError(t, p.Up(context.Background()))

	assert.Len(t, asked, 2, "one prompt per existing container")
	assert.Contains(t, engine.calls, "remove-container jenkins-docker")
	assert.Contains(t, engine.calls, "remove-container jenkins-blueocean")

	assert.Len(t, engine.containers, 2)
	assert.Equal(t, model.StateRunning, engine.containers["jenkins-docker"])
	assert.Equal(t, model.StateRunning, engine.containers["jenkins-blueocean"])
}

// TestUp_BuildFailure verifies a failed build aborts before any
// container run is attempted, and that earlier side effects (the created
// network) are left in place rather than rolled back.
func TestUp_BuildFailure(t *testing.T) {
	engine := newFakeEngine()
	engine.buildErr = model.WrapCLIError(model.ExitFailure,
		`image build failed for "myjenkins-blueocean:latest"`, errors.New("step 3/7 failed"))

	p := newTestProvisioner(engine, nil, answer(true, nil), nil)
	err := p.Up(context.Background())
	require.Error(t, err)

	for _, call := range engine.calls {
		assert.NotContains(t, call, "run", "build failure must abort before any container start")
	}
	assert.True(t, engine.networks["jenkins"],
		"the created network is left in place after an abort")
	assert.Equal(t, model.StepAborted, p.Step())
}

// TestUp_DinDRunFailure verifies that a failed DinD start aborts before
// the Jenkins container is started.
func TestUp_DinDRunFailure(t *testing.T) {
	engine := newFakeEngine()
	engine.runErr["jenkins-docker"] = model.WrapCLIError(model.ExitFailure,
		`failed to start container "jenkins-docker"`, errors.New("driver failure"))

	p := newTestProvisioner(engine, nil, answer(true, nil), nil)
	err := p.Up(context.Background())
	require.Error(t, err)

	assert.NotContains(t, engine.calls, "run jenkins-blueocean")
	assert.Equal(t, model.StepAborted, p.Step())
}

// publishingEngine wraps fakeEngine to mimic the daemon's docker-proxy:
// the host listeners for a container's published ports are released when
// that container is removed.
type publishingEngine struct {
	*fakeEngine
	held map[string][]net.Listener
}

func (e *publishingEngine) RemoveContainer(ctx context.Context, name string) error {
	for _, l := range e.held[name] {
		_ = l.Close()
	}
	delete(e.held, name)
	return e.fakeEngine.RemoveContainer(ctx, name)
}

// mustListen opens a loopback listener on an ephemeral port, standing in
// for a process holding one of the published host ports.
func mustListen(t *testing.T) (net.Listener, int) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, l.Addr().(*net.TCPAddr).Port
}

// TestUp_RerunReleasesPublishedPorts verifies, with the real port
// scanner, that a rerun over an already-provisioned stack succeeds: the
// docker-proxy listeners held by the previous containers do not trip the
// precondition, and once the containers are removed with consent the
// re-check finds the ports free.
func TestUp_RerunReleasesPublishedPorts(t *testing.T) {
	engine := newFakeEngine()
	engine.networks["jenkins"] = true
	engine.containers["jenkins-docker"] = model.StateRunning
	engine.containers["jenkins-blueocean"] = model.StateRunning

	daemonL, daemonPort := mustListen(t)
	webL, webPort := mustListen(t)
	agentL, agentPort := mustListen(t)

	cfg := config.Default()
	cfg.DaemonPort, cfg.WebPort, cfg.AgentPort = daemonPort, webPort, agentPort

	wrapped := &publishingEngine{fakeEngine: engine, held: map[string][]net.Listener{
		"jenkins-docker":    {daemonL},
		"jenkins-blueocean": {webL, agentL},
	}}

	p := New(cfg, wrapped,
		WithConfirm(answer(true, nil)),
		WithOutput(&bytes.Buffer{}),
	)
	require.NoError(t, p.Up(context.Background()),
		"a rerun answering yes everywhere must succeed despite listeners held by the previous containers")

	assert.Equal(t, model.StepDone, p.Step())
	assert.Equal(t, model.StateRunning, engine.containers["jenkins-docker"])
	assert.Equal(t, model.StateRunning, engine.containers["jenkins-blueocean"])
}

// TestUp_ForeignListenerSurvivesReconciliation verifies that a listener
// not released by container removal still aborts the procedure — after
// reconciliation, before the build.
func TestUp_ForeignListenerSurvivesReconciliation(t *testing.T) {
	engine := newFakeEngine()
	engine.containers["jenkins-docker"] = model.StateRunning

	daemonL, daemonPort := mustListen(t)
	agentL, agentPort := mustListen(t)
	_, webPort := mustListen(t) // never released

	cfg := config.Default()
	cfg.DaemonPort, cfg.WebPort, cfg.AgentPort = daemonPort, webPort, agentPort

	wrapped := &publishingEngine{fakeEngine: engine, held: map[string][]net.Listener{
		"jenkins-docker": {daemonL, agentL},
	}}

	p := New(cfg, wrapped,
		WithConfirm(answer(true, nil)),
		WithOutput(&bytes.Buffer{}),
	)
	err := p.Up(context.Background())
	require.Error(t, err)

	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitFailure, cliErr.Code)
	assert.Contains(t, cliErr.Message, fmt.Sprintf("%d", webPort))

	for _, call := range engine.calls {
		assert.NotContains(t, call, "build", "a held port must abort before the build")
	}
	assert.Equal(t, model.StepAborted, p.Step())
}

// TestUp_ConfirmationReadFailure verifies that a failed confirmation
// read (an interrupted prompt) aborts the procedure with exit 1 before
// any mutation.
func TestUp_ConfirmationReadFailure(t *testing.T) {
	engine := newFakeEngine()
	engine.networks["jenkins"] = true

	confirm := func(string) (bool, error) {
		return false, errors.New("interrupt")
	}
	p := newTestProvisioner(engine, nil, confirm, nil)
	err := p.Up(context.Background())
	require.Error(t, err)

	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitFailure, cliErr.Code)
	assert.Contains(t, cliErr.Message, "confirmation")

	assert.Empty(t, engine.mutations())
	assert.Equal(t, model.StepAborted, p.Step())
}

// TestUp_RerunIsIdempotent verifies that running the procedure twice in
// a row, answering yes to every prompt, succeeds both times and ends
// with exactly one instance of each container.
func TestUp_RerunIsIdempotent(t *testing.T) {
	engine := newFakeEngine()

	first := newTestProvisioner(engine, nil, answer(true, nil), nil)
	require.NoError(t, first.Up(context.Background()))

	second := newTestProvisioner(engine, nil, answer(true, nil), nil)
	require.NoError(t, second.Up(context.Background()))

	assert.Len(t, engine.networks, 1)
	assert.Len(t, engine.containers, 2)
	assert.Equal(t, model.StateRunning, engine.containers["jenkins-docker"])
	assert.Equal(t, model.StateRunning, engine.containers["jenkins-blueocean"])
}

// TestTeardown verifies container, network and volume removal, and that
// already-absent resources are skipped silently.
func TestTeardown(t *testing.T) {
	engine := newFakeEngine()
	p := newTestProvisioner(engine, nil, answer(true, nil), nil)
	require.NoError(t, p.Up(context.Background()))

	report, err := p.Teardown(context.Background(), false)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"jenkins-blueocean", "jenkins-docker"}, report.ContainersRemoved)
	assert.True(t, report.NetworkRemoved)
	assert.Empty(t, report.VolumesRemoved, "volumes are kept without the volumes flag")
	assert.Empty(t, engine.containers)
	assert.Empty(t, engine.networks)
	assert.True(t, engine.volumes["jenkins-data"], "data volume survives a plain teardown")

	// A second teardown on the now-empty daemon removes nothing.
	report, err = p.Teardown(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, report.ContainersRemoved)
	assert.False(t, report.NetworkRemoved)
}

// TestTeardown_WithVolumes verifies the volumes flag removes both named
// volumes.
func TestTeardown_WithVolumes(t *testing.T) {
	engine := newFakeEngine()
	p := newTestProvisioner(engine, nil, answer(true, nil), nil)
	require.NoError(t, p.Up(context.Background()))

	report, err := p.Teardown(context.Background(), true)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"jenkins-docker-certs", "jenkins-data"}, report.VolumesRemoved)
	assert.Empty(t, engine.volumes)
}

// TestStatus verifies the snapshot over a provisioned and an empty
// daemon.
func TestStatus(t *testing.T) {
	engine := newFakeEngine()
	p := newTestProvisioner(engine, nil, answer(true, nil), nil)

	status, err := p.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, status.NetworkExists)
	assert.False(t, status.ImageExists)
	assert.False(t, status.Running())
	require.Len(t, status.Containers, 2)
	assert.Equal(t, model.StateAbsent, status.Containers[0].State)

	require.NoError(t, p.Up(context.Background()))

	status, err = p.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.NetworkExists)
	assert.True(t, status.ImageExists)
	assert.True(t, status.Running())
	assert.Equal(t, "jenkins-docker", status.Containers[0].Name)
	assert.Equal(t, "jenkins-blueocean", status.Containers[1].Name)
}
