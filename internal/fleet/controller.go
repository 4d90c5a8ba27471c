package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/logan-robbins/quadracode-sub000/internal/models"
	"github.com/logan-robbins/quadracode-sub000/internal/registry"
)

// ErrLivenessTimeout is returned by SpawnAgent when the spawned agent
// never registers and heartbeats against the Agent Registry within the
// configured timeout (spec §4.11: "its liveness is confirmed by waiting
// for the agent's own register + heartbeat against C3 within a timeout").
var ErrLivenessTimeout = errors.New("fleet: agent did not become healthy before liveness timeout")

// Controller implements the Fleet Controller (C11) operations: spawn_agent,
// delete_agent, list, status, mark_hotpath, clear_hotpath, list_hotpath.
// Runs inside the Orchestrator's tool-call path per spec §4.11.
type Controller struct {
	Registry             registry.Store
	Runtime              Runtime
	Now                  func() time.Time
	LivenessTimeout      time.Duration
	LivenessPollInterval time.Duration

	mu      sync.Mutex
	handles map[string]AgentHandle
}

// NewController wires a Controller with sane defaults for any zero fields.
func NewController(reg registry.Store, rt Runtime) *Controller {
	return &Controller{
		Registry:             reg,
		Runtime:              rt,
		Now:                  time.Now,
		LivenessTimeout:      30 * time.Second,
		LivenessPollInterval: 500 * time.Millisecond,
		handles:              make(map[string]AgentHandle),
	}
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// SpawnAgentRequest is the spawn_agent operation's input.
type SpawnAgentRequest struct {
	AgentID     string
	DisplayName string
	Template    string
	Image       string
	Env         map[string]string
	Labels      map[string]string
	Hotpath     bool
}

// SpawnAgentResult is the spawn_agent operation's output.
type SpawnAgentResult struct {
	Success bool               `json:"success"`
	Error   string             `json:"error,omitempty"`
	Agent   models.AgentRecord `json:"agent,omitempty"`
	Handle  AgentHandle        `json:"handle,omitempty"`
}

// SpawnAgent creates an agent container and blocks until the agent
// registers and heartbeats healthy against the Agent Registry, or the
// liveness timeout elapses — in which case the container is torn back
// down and Success=false.
func (c *Controller) SpawnAgent(ctx context.Context, req SpawnAgentRequest) (SpawnAgentResult, error) {
	if req.AgentID == "" {
		return SpawnAgentResult{Success: false, Error: "agent_id is required"}, nil
	}

	handle, err := c.Runtime.Spawn(ctx, AgentSpec{
		AgentID:     req.AgentID,
		DisplayName: req.DisplayName,
		Template:    req.Template,
		Image:       req.Image,
		Env:         req.Env,
		Labels:      req.Labels,
	})
	if err != nil {
		return SpawnAgentResult{}, fmt.Errorf("spawn container: %w", err)
	}

	c.mu.Lock()
	c.handles[req.AgentID] = handle
	c.mu.Unlock()

	rec, err := c.waitForLiveness(ctx, req.AgentID)
	if err != nil {
		_ = c.Runtime.Remove(ctx, handle)
		c.mu.Lock()
		delete(c.handles, req.AgentID)
		c.mu.Unlock()
		return SpawnAgentResult{Success: false, Error: "liveness_timeout", Handle: handle}, nil
	}

	if req.Hotpath {
		if err := c.Registry.SetHotpath(ctx, req.AgentID, true); err != nil {
			return SpawnAgentResult{}, fmt.Errorf("set hotpath: %w", err)
		}
		rec.Hotpath = true
	}

	return SpawnAgentResult{Success: true, Agent: rec, Handle: handle}, nil
}

func (c *Controller) waitForLiveness(ctx context.Context, agentID string) (models.AgentRecord, error) {
	timeout := c.LivenessTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	interval := c.LivenessPollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	deadline := c.now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		rec, err := c.Registry.Get(ctx, agentID)
		if err == nil && rec.Status == models.AgentHealthy {
			return rec, nil
		}

		if c.now().After(deadline) {
			return models.AgentRecord{}, ErrLivenessTimeout
		}

		select {
		case <-ctx.Done():
			return models.AgentRecord{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// DeleteAgentResult is the delete_agent operation's output.
type DeleteAgentResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// DeleteAgent consults the Agent Registry and refuses to proceed if the
// target is hotpath=true without force=true (spec §4.11, scenario S5):
// `{success=false, error=hotpath_agent}`, the container is never touched.
func (c *Controller) DeleteAgent(ctx context.Context, agentID string, force bool) (DeleteAgentResult, error) {
	rec, err := c.Registry.Get(ctx, agentID)
	switch {
	case err == nil:
		if rec.Hotpath && !force {
			return DeleteAgentResult{Success: false, Error: "hotpath_agent"}, nil
		}
	case errors.Is(err, registry.ErrAgentNotFound):
		// Unregistered container (e.g. it never reached liveness); still
		// eligible for teardown since C3 has no hotpath opinion on it.
	default:
		return DeleteAgentResult{}, fmt.Errorf("registry get: %w", err)
	}

	handle, ok := c.lookupHandle(ctx, agentID)
	if ok {
		if err := c.Runtime.Remove(ctx, handle); err != nil {
			return DeleteAgentResult{}, fmt.Errorf("remove container: %w", err)
		}
	}

	c.mu.Lock()
	delete(c.handles, agentID)
	c.mu.Unlock()

	if err == nil {
		if err := c.Registry.Remove(ctx, agentID, force); err != nil && !errors.Is(err, registry.ErrAgentNotFound) {
			return DeleteAgentResult{}, fmt.Errorf("registry remove: %w", err)
		}
	}

	return DeleteAgentResult{Success: true}, nil
}

func (c *Controller) lookupHandle(ctx context.Context, agentID string) (AgentHandle, bool) {
	c.mu.Lock()
	h, ok := c.handles[agentID]
	c.mu.Unlock()
	if ok {
		return h, true
	}

	handles, err := c.Runtime.List(ctx)
	if err != nil {
		return AgentHandle{}, false
	}
	for _, h := range handles {
		if h.AgentID == agentID {
			return h, true
		}
	}
	return AgentHandle{}, false
}

// List returns every registered agent, per spec §4.11's `list` operation.
func (c *Controller) List(ctx context.Context) ([]models.AgentRecord, error) {
	return c.Registry.List(ctx, false, false)
}

// StatusResult combines the registry record and the runtime-observed
// container state for the `status` operation.
type StatusResult struct {
	Agent   models.AgentRecord `json:"agent"`
	Runtime *RuntimeStatus     `json:"runtime,omitempty"`
}

// Status returns the registry record plus, when the container is still
// known to the Runtime, its live container state.
func (c *Controller) Status(ctx context.Context, agentID string) (StatusResult, error) {
	rec, err := c.Registry.Get(ctx, agentID)
	if err != nil {
		return StatusResult{}, fmt.Errorf("registry get: %w", err)
	}

	result := StatusResult{Agent: rec}
	if handle, ok := c.lookupHandle(ctx, agentID); ok {
		rs, err := c.Runtime.Status(ctx, handle)
		if err == nil {
			result.Runtime = &rs
		}
	}
	return result, nil
}

// MarkHotpath flags an agent as hotpath-protected.
func (c *Controller) MarkHotpath(ctx context.Context, agentID string) error {
	return c.Registry.SetHotpath(ctx, agentID, true)
}

// ClearHotpath removes an agent's hotpath protection.
func (c *Controller) ClearHotpath(ctx context.Context, agentID string) error {
	return c.Registry.SetHotpath(ctx, agentID, false)
}

// ListHotpath returns every hotpath-flagged agent.
func (c *Controller) ListHotpath(ctx context.Context) ([]models.AgentRecord, error) {
	return c.Registry.List(ctx, false, true)
}
