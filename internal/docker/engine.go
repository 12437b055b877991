// engine.go implements the Docker operations the provisioner sequences:
// network reconciliation, named container lookup and removal, image build
// and pull, container creation from a typed spec, and volume removal.
//
// Every method issues a single imperative request and surfaces the
// daemon's answer as a typed error; nothing here retries or rolls back.
package docker

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/go-connections/nat"

	"github.com/mmr-tortoise/jenkins-up/internal/model"
)

// Engine executes Docker operations against a connected daemon. It
// implements the provision.Engine contract.
type Engine struct {
	cli *Client

	// progress receives the streamed output of image build and pull
	// operations so the operator can watch long-running steps.
	progress io.Writer
}

// NewEngine creates an Engine on top of an existing client. Build and
// pull progress is written to progress; pass io.Discard to silence it.
func NewEngine(cli *Client, progress io.Writer) *Engine {
	if progress == nil {
		progress = io.Discard
	}
	return &Engine{cli: cli, progress: progress}
}

// Ping verifies daemon reachability. See Client.Ping.
func (e *Engine) Ping(ctx context.Context) error {
	return e.cli.Ping(ctx)
}

// NetworkExists reports whether a network with the given name exists.
func (e *Engine) NetworkExists(ctx context.Context, name string) (bool, error) {
	_, err := e.cli.Inner().NetworkInspect(ctx, name, network.InspectOptions{})
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, model.WrapCLIError(model.ExitFailure,
			fmt.Sprintf("failed to inspect network %q", name), err)
	}
	return true, nil
}

// CreateNetwork creates a bridge network with the given name.
func (e *Engine) CreateNetwork(ctx context.Context, name string) error {
	_, err := e.cli.Inner().NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
	})
	if err != nil {
		return model.WrapCLIError(model.ExitFailure,
			fmt.Sprintf("failed to create network %q", name), err)
	}
	return nil
}

// RemoveNetwork removes a network by name. A missing network is not an
// error — the desired state is already reached.
func (e *Engine) RemoveNetwork(ctx context.Context, name string) error {
	err := e.cli.Inner().NetworkRemove(ctx, name)
	if err != nil && !client.IsErrNotFound(err) {
		return model.WrapCLIError(model.ExitFailure,
			fmt.Sprintf("failed to remove network %q", name), err)
	}
	return nil
}

// ContainerState looks up a container by exact name and returns its
// observed state: absent, stopped, or running.
//
// The daemon's name filter matches substrings, so the results are
// compared against the exact name. Docker returns container names with a
// leading "/" prefix, which is stripped before comparison.
func (e *Engine) ContainerState(ctx context.Context, name string) (model.ResourceState, error) {
	filterArgs := filters.NewArgs(filters.Arg("name", name))

	// The All flag includes stopped/exited containers — a stopped
	// container still holds its name and blocks provisioning.
	containers, err := e.cli.Inner().ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return model.StateAbsent, model.WrapCLIError(model.ExitFailure,
			"failed to list Docker containers", err)
	}

	for _, c := range containers {
		if containerHasName(c, name) {
			return model.ContainerStateFromDocker(c.State), nil
		}
	}
	return model.StateAbsent, nil
}

// containerHasName reports whether the API container result carries the
// exact given name.
func containerHasName(c types.Container, name string) bool {
	for _, n := range c.Names {
		if strings.TrimPrefix(n, "/") == name {
			return true
		}
	}
	return false
}

// RemoveContainer force-removes a container by name. Force removal kills
// a still-running container before removing it. A missing container is
// not an error.
func (e *Engine) RemoveContainer(ctx context.Context, name string) error {
	err := e.cli.Inner().ContainerRemove(ctx, name, container.RemoveOptions{
		Force: true,
	})
	if err != nil && !client.IsErrNotFound(err) {
		return model.WrapCLIError(model.ExitFailure,
			fmt.Sprintf("failed to remove container %q", name), err)
	}
	return nil
}

// ImageExists reports whether an image with the given reference is
// present on the daemon.
func (e *Engine) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, _, err := e.cli.Inner().ImageInspectWithRaw(ctx, ref)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, model.WrapCLIError(model.ExitFailure,
			fmt.Sprintf("failed to inspect image %q", ref), err)
	}
	return true, nil
}

// BuildImage builds the given directory as a build context and tags the
// result. The directory must contain a Dockerfile. The image is always
// rebuilt; existing images with the same tag are untagged by the daemon.
//
// The build API streams progress as a JSON message sequence and reports
// build failures inside that stream rather than in the HTTP response, so
// the stream must be consumed to completion to learn the outcome.
func (e *Engine) BuildImage(ctx context.Context, contextDir, tag string) error {
	buildCtx, err := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if err != nil {
		return model.WrapCLIError(model.ExitFailure,
			fmt.Sprintf("failed to prepare build context from %s", contextDir), err)
	}
	defer buildCtx.Close()

	resp, err := e.cli.Inner().ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags: []string{tag},
		// Remove intermediate containers after a successful build,
		// matching docker build's default behavior.
		Remove: true,
	})
	if err != nil {
		return model.WrapCLIError(model.ExitFailure,
			fmt.Sprintf("failed to build image %q — is there a Dockerfile in %s?", tag, contextDir), err)
	}
	defer resp.Body.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, e.progress, 0, false, nil); err != nil {
		return model.WrapCLIError(model.ExitFailure,
			fmt.Sprintf("image build failed for %q", tag), err)
	}
	return nil
}

// PullImage pulls an image from its registry, draining the progress
// stream to completion. docker run pulls missing images implicitly; the
// API's create endpoint does not, so the DinD image is pulled explicitly
// before its container is created.
func (e *Engine) PullImage(ctx context.Context, ref string) error {
	reader, err := e.cli.Inner().ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return model.WrapCLIError(model.ExitFailure,
			fmt.Sprintf("failed to pull image %q", ref), err)
	}
	defer reader.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(reader, e.progress, 0, false, nil); err != nil {
		return model.WrapCLIError(model.ExitFailure,
			fmt.Sprintf("pull of image %q failed", ref), err)
	}
	return nil
}

// RunContainer creates and starts a detached container from the typed
// spec. It is the SDK equivalent of a single docker run invocation: the
// spec's ports, mounts, network attachment and privileges are translated
// into the API's Config/HostConfig/NetworkingConfig triple.
func (e *Engine) RunContainer(ctx context.Context, spec model.ContainerSpec) error {
	if err := spec.Validate(); err != nil {
		return model.WrapCLIError(model.ExitFailure, "invalid container spec", err)
	}

	exposedPorts, portBindings, err := portMaps(spec.Ports)
	if err != nil {
		return model.WrapCLIError(model.ExitFailure,
			fmt.Sprintf("invalid port mapping for container %q", spec.Name), err)
	}

	containerConfig := &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		ExposedPorts: exposedPorts,
		Cmd:          spec.Cmd,
	}

	hostConfig := &container.HostConfig{
		Privileged:   spec.Privileged,
		PortBindings: portBindings,
		Binds:        volumeBinds(spec.Mounts),
	}
	if spec.RestartOnFailure {
		hostConfig.RestartPolicy = container.RestartPolicy{
			Name: container.RestartPolicyOnFailure,
		}
	}

	var networkConfig *network.NetworkingConfig
	if spec.Network != "" {
		endpoint := &network.EndpointSettings{}
		if spec.NetworkAlias != "" {
			endpoint.Aliases = []string{spec.NetworkAlias}
		}
		networkConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.Network: endpoint,
			},
		}
	}

	resp, err := e.cli.Inner().ContainerCreate(ctx, containerConfig, hostConfig, networkConfig, nil, spec.Name)
	if err != nil {
		return model.WrapCLIError(model.ExitFailure,
			fmt.Sprintf("failed to create container %q", spec.Name), err)
	}

	if err := e.cli.Inner().ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return model.WrapCLIError(model.ExitFailure,
			fmt.Sprintf("failed to start container %q", spec.Name), err)
	}
	return nil
}

// VolumeExists reports whether a named volume exists.
func (e *Engine) VolumeExists(ctx context.Context, name string) (bool, error) {
	_, err := e.cli.Inner().VolumeInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, model.WrapCLIError(model.ExitFailure,
			fmt.Sprintf("failed to inspect volume %q", name), err)
	}
	return true, nil
}

// RemoveVolume removes a named volume. A missing volume is not an error.
func (e *Engine) RemoveVolume(ctx context.Context, name string) error {
	err := e.cli.Inner().VolumeRemove(ctx, name, false)
	if err != nil && !client.IsErrNotFound(err) {
		return model.WrapCLIError(model.ExitFailure,
			fmt.Sprintf("failed to remove volume %q", name), err)
	}
	return nil
}

// portMaps converts the spec's port mappings into the SDK's exposed port
// set and host binding map. All mappings are TCP, published on all
// interfaces.
func portMaps(ports []model.PortMapping) (nat.PortSet, nat.PortMap, error) {
	exposed := make(nat.PortSet, len(ports))
	bindings := make(nat.PortMap, len(ports))

	for _, p := range ports {
		if err := p.Validate(); err != nil {
			return nil, nil, err
		}
		containerPort, err := nat.NewPort("tcp", strconv.Itoa(p.ContainerPort))
		if err != nil {
			return nil, nil, err
		}
		exposed[containerPort] = struct{}{}
		bindings[containerPort] = []nat.PortBinding{
			{
				HostIP:   "0.0.0.0",
				HostPort: strconv.Itoa(p.HostPort),
			},
		}
	}
	return exposed, bindings, nil
}

// volumeBinds converts the spec's volume mounts into HostConfig.Binds
// strings.
func volumeBinds(mounts []model.VolumeMount) []string {
	if len(mounts) == 0 {
		return nil
	}
	binds := make([]string, 0, len(mounts))
	for _, m := range mounts {
		binds = append(binds, m.Bind())
	}
	return binds
}
