// Package fleet implements the Fleet Controller (C11): spawn/teardown of
// agent processes with hotpath-aware deletion gating, grounded on the
// teacher's pkg/queue worker lifecycle for the liveness-wait shape and on
// bdobrica-Ruriko's internal/ruriko/runtime/docker adapter for the
// container runtime (the teacher's own docker/docker dependency is
// transitive only; Ruriko is the pack member with a direct, usable
// client pattern).
package fleet

import (
	"context"
	"time"
)

// ContainerState mirrors the subset of Docker container states the Fleet
// Controller reports through Status.
type ContainerState string

// Container states.
const (
	StateUnknown    ContainerState = "unknown"
	StateCreated    ContainerState = "created"
	StateRunning    ContainerState = "running"
	StatePaused     ContainerState = "paused"
	StateRestarting ContainerState = "restarting"
	StateRemoving   ContainerState = "removing"
	StateExited     ContainerState = "exited"
	StateDead       ContainerState = "dead"
)

// AgentSpec describes the agent process to spawn.
type AgentSpec struct {
	AgentID     string
	DisplayName string
	Template    string
	Image       string
	Env         map[string]string
	Labels      map[string]string
	ControlPort int
	NetworkName string
}

// AgentHandle identifies a spawned agent's underlying container.
type AgentHandle struct {
	AgentID       string
	ContainerID   string
	ContainerName string
	ControlURL    string
}

// RuntimeStatus is the runtime-observed state of one agent container.
type RuntimeStatus struct {
	AgentID     string
	ContainerID string
	State       ContainerState
	StartedAt   time.Time
	FinishedAt  time.Time
	ExitCode    int
	Error       string
}

// Runtime is the container-runtime seam the Controller spawns/tears down
// agents through. DockerRuntime is the production implementation; tests
// use a fake.
type Runtime interface {
	Spawn(ctx context.Context, spec AgentSpec) (AgentHandle, error)
	Remove(ctx context.Context, handle AgentHandle) error
	List(ctx context.Context) ([]AgentHandle, error)
	Status(ctx context.Context, handle AgentHandle) (RuntimeStatus, error)
}

// DefaultControlPort is the agent's control-plane listen port inside its
// container, used when an AgentSpec omits one.
const DefaultControlPort = 7070

// ContainerNameFor derives a deterministic, collision-free container name
// from an agent id.
func ContainerNameFor(agentID string) string {
	return "quadracode-agent-" + agentID
}
