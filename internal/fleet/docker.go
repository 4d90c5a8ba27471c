package fleet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
)

const (
	labelManagedBy = "quadracode.managed-by"
	labelAgentID   = "quadracode.agent-id"
	labelTemplate  = "quadracode.template"
	managedByValue = "quadracode"

	stopTimeout = 10 * time.Second
)

// DockerRuntime implements Runtime over the Docker Engine API, adapted
// from bdobrica-Ruriko's internal/ruriko/runtime/docker.Adapter.
type DockerRuntime struct {
	client  *dockerclient.Client
	network string
}

// NewDockerRuntime builds a DockerRuntime using DOCKER_HOST (or the
// default socket) and the given network name for agent containers.
func NewDockerRuntime(networkName string) (*DockerRuntime, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	if networkName == "" {
		networkName = managedByValue
	}
	return &DockerRuntime{client: cli, network: networkName}, nil
}

// EnsureNetwork creates the agent fleet's Docker network if absent.
func (d *DockerRuntime) EnsureNetwork(ctx context.Context) error {
	nets, err := d.client.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", d.network)),
	})
	if err != nil {
		return fmt.Errorf("list networks: %w", err)
	}
	for _, n := range nets {
		if n.Name == d.network {
			return nil
		}
	}
	_, err = d.client.NetworkCreate(ctx, d.network, network.CreateOptions{
		Driver:     "bridge",
		Attachable: true,
		Labels:     map[string]string{labelManagedBy: managedByValue},
	})
	if err != nil {
		return fmt.Errorf("create network %q: %w", d.network, err)
	}
	return nil
}

// Spawn creates and starts an agent container from spec.
func (d *DockerRuntime) Spawn(ctx context.Context, spec AgentSpec) (AgentHandle, error) {
	if spec.Image == "" {
		return AgentHandle{}, fmt.Errorf("spec.Image is required")
	}

	controlPort := spec.ControlPort
	if controlPort == 0 {
		controlPort = DefaultControlPort
	}
	networkName := spec.NetworkName
	if networkName == "" {
		networkName = d.network
	}
	containerName := ContainerNameFor(spec.AgentID)

	env := []string{
		fmt.Sprintf("AGENT_ID=%s", spec.AgentID),
		fmt.Sprintf("AGENT_DISPLAY_NAME=%s", spec.DisplayName),
		fmt.Sprintf("AGENT_TEMPLATE=%s", spec.Template),
		fmt.Sprintf("FLEET_CONTROL_PORT=%d", controlPort),
	}
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	labels := map[string]string{
		labelManagedBy: managedByValue,
		labelAgentID:   spec.AgentID,
		labelTemplate:  spec.Template,
	}
	for k, v := range spec.Labels {
		labels[k] = v
	}

	containerCfg := &container.Config{
		Image:  spec.Image,
		Env:    env,
		Labels: labels,
	}
	hostCfg := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: "unless-stopped"},
	}
	networkCfg := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			networkName: {},
		},
	}

	resp, err := d.client.ContainerCreate(ctx, containerCfg, hostCfg, networkCfg, nil, containerName)
	if err != nil {
		return AgentHandle{}, fmt.Errorf("create container: %w", err)
	}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = d.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return AgentHandle{}, fmt.Errorf("start container: %w", err)
	}

	inspect, err := d.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		return AgentHandle{}, fmt.Errorf("inspect container: %w", err)
	}

	controlURL := fmt.Sprintf("http://localhost:%d", controlPort)
	if nets := inspect.NetworkSettings.Networks; nets != nil {
		if ep, ok := nets[networkName]; ok && ep.IPAddress != "" {
			controlURL = fmt.Sprintf("http://%s:%d", ep.IPAddress, controlPort)
		}
	}

	return AgentHandle{
		AgentID:       spec.AgentID,
		ContainerID:   resp.ID,
		ContainerName: containerName,
		ControlURL:    controlURL,
	}, nil
}

// Remove stops (best-effort) and force-removes the agent container.
func (d *DockerRuntime) Remove(ctx context.Context, handle AgentHandle) error {
	timeout := int(stopTimeout.Seconds())
	_ = d.client.ContainerStop(ctx, handle.ContainerID, container.StopOptions{Timeout: &timeout})
	if err := d.client.ContainerRemove(ctx, handle.ContainerID, container.RemoveOptions{Force: true}); err != nil {
		if !dockerclient.IsErrNotFound(err) {
			return fmt.Errorf("remove container: %w", err)
		}
	}
	return nil
}

// List returns handles for all quadracode-managed containers.
func (d *DockerRuntime) List(ctx context.Context) ([]AgentHandle, error) {
	containers, err := d.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", labelManagedBy+"="+managedByValue)),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	handles := make([]AgentHandle, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		handles = append(handles, AgentHandle{
			AgentID:       c.Labels[labelAgentID],
			ContainerID:   c.ID,
			ContainerName: name,
		})
	}
	return handles, nil
}

// Status inspects the container backing handle.
func (d *DockerRuntime) Status(ctx context.Context, handle AgentHandle) (RuntimeStatus, error) {
	inspect, err := d.client.ContainerInspect(ctx, handle.ContainerID)
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return RuntimeStatus{AgentID: handle.AgentID, ContainerID: handle.ContainerID, State: StateUnknown}, nil
		}
		return RuntimeStatus{}, fmt.Errorf("inspect container: %w", err)
	}

	startedAt, _ := time.Parse(time.RFC3339Nano, inspect.State.StartedAt)
	finishedAt, _ := time.Parse(time.RFC3339Nano, inspect.State.FinishedAt)

	return RuntimeStatus{
		AgentID:     handle.AgentID,
		ContainerID: inspect.ID,
		State:       parseContainerState(inspect.State.Status),
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
		ExitCode:    inspect.State.ExitCode,
		Error:       inspect.State.Error,
	}, nil
}

func parseContainerState(s string) ContainerState {
	switch strings.ToLower(s) {
	case "running":
		return StateRunning
	case "created":
		return StateCreated
	case "paused":
		return StatePaused
	case "restarting":
		return StateRestarting
	case "removing":
		return StateRemoving
	case "exited":
		return StateExited
	case "dead":
		return StateDead
	default:
		return StateUnknown
	}
}

var _ Runtime = (*DockerRuntime)(nil)
