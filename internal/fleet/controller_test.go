package fleet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logan-robbins/quadracode-sub000/internal/registry"
)

// fakeRuntime is an in-memory Runtime double. registerOnSpawn, when set,
// simulates the spawned agent self-registering against the registry after
// a short delay, exercising the liveness-wait path without a real
// container runtime.
type fakeRuntime struct {
	mu       sync.Mutex
	handles  map[string]AgentHandle
	removed  []string
	spawnErr error

	reg             registry.Store
	registerOnSpawn bool
	registerDelay   time.Duration
}

func (f *fakeRuntime) Spawn(ctx context.Context, spec AgentSpec) (AgentHandle, error) {
	if f.spawnErr != nil {
		return AgentHandle{}, f.spawnErr
	}
	h := AgentHandle{AgentID: spec.AgentID, ContainerID: "c-" + spec.AgentID, ContainerName: ContainerNameFor(spec.AgentID)}
	f.mu.Lock()
	if f.handles == nil {
		f.handles = make(map[string]AgentHandle)
	}
	f.handles[spec.AgentID] = h
	f.mu.Unlock()

	if f.registerOnSpawn {
		go func() {
			time.Sleep(f.registerDelay)
			_, _ = f.reg.Register(context.Background(), registry.RegisterRequest{AgentID: spec.AgentID, Host: "127.0.0.1", Port: 7070})
		}()
	}
	return h, nil
}

func (f *fakeRuntime) Remove(ctx context.Context, handle AgentHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handles, handle.AgentID)
	f.removed = append(f.removed, handle.AgentID)
	return nil
}

func (f *fakeRuntime) List(ctx context.Context) ([]AgentHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]AgentHandle, 0, len(f.handles))
	for _, h := range f.handles {
		out = append(out, h)
	}
	return out, nil
}

func (f *fakeRuntime) Status(ctx context.Context, handle AgentHandle) (RuntimeStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.handles[handle.AgentID]; !ok {
		return RuntimeStatus{AgentID: handle.AgentID, State: StateUnknown}, nil
	}
	return RuntimeStatus{AgentID: handle.AgentID, ContainerID: handle.ContainerID, State: StateRunning}, nil
}

var _ Runtime = (*fakeRuntime)(nil)

func newTestController(reg registry.Store, rt *fakeRuntime) *Controller {
	c := NewController(reg, rt)
	c.LivenessTimeout = 200 * time.Millisecond
	c.LivenessPollInterval = 10 * time.Millisecond
	return c
}

func TestSpawnAgentSucceedsWhenAgentRegistersInTime(t *testing.T) {
	reg := registry.NewMemoryStore(time.Minute)
	rt := &fakeRuntime{reg: reg, registerOnSpawn: true, registerDelay: 20 * time.Millisecond}
	c := newTestController(reg, rt)

	result, err := c.SpawnAgent(context.Background(), SpawnAgentRequest{AgentID: "worker-7", Image: "quadracode/agent:latest"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "worker-7", result.Agent.AgentID)
	assert.Equal(t, "c-worker-7", result.Handle.ContainerID)
}

func TestSpawnAgentWithHotpathSetsRegistryFlag(t *testing.T) {
	reg := registry.NewMemoryStore(time.Minute)
	rt := &fakeRuntime{reg: reg, registerOnSpawn: true, registerDelay: 5 * time.Millisecond}
	c := newTestController(reg, rt)

	result, err := c.SpawnAgent(context.Background(), SpawnAgentRequest{AgentID: "dbg", Image: "quadracode/agent:latest", Hotpath: true})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.True(t, result.Agent.Hotpath)

	rec, err := reg.Get(context.Background(), "dbg")
	require.NoError(t, err)
	assert.True(t, rec.Hotpath)
}

func TestSpawnAgentTearsDownContainerOnLivenessTimeout(t *testing.T) {
	reg := registry.NewMemoryStore(time.Minute)
	rt := &fakeRuntime{reg: reg, registerOnSpawn: false}
	c := newTestController(reg, rt)

	result, err := c.SpawnAgent(context.Background(), SpawnAgentRequest{AgentID: "ghost", Image: "quadracode/agent:latest"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "liveness_timeout", result.Error)
	assert.Contains(t, rt.removed, "ghost")
}

func TestDeleteAgentRefusesHotpathWithoutForce(t *testing.T) {
	reg := registry.NewMemoryStore(time.Minute)
	hot := true
	_, err := reg.Register(context.Background(), registry.RegisterRequest{AgentID: "dbg", Host: "h", Port: 1, Hotpath: &hot})
	require.NoError(t, err)
	rt := &fakeRuntime{reg: reg}
	rt.handles = map[string]AgentHandle{"dbg": {AgentID: "dbg", ContainerID: "c-dbg"}}
	c := newTestController(reg, rt)

	result, err := c.DeleteAgent(context.Background(), "dbg", false)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "hotpath_agent", result.Error)
	assert.Empty(t, rt.removed, "container must never be touched when refused")

	_, getErr := reg.Get(context.Background(), "dbg")
	assert.NoError(t, getErr, "registry still lists the hotpath agent")
}

func TestDeleteAgentWithForceRemovesHotpathAgent(t *testing.T) {
	reg := registry.NewMemoryStore(time.Minute)
	hot := true
	_, err := reg.Register(context.Background(), registry.RegisterRequest{AgentID: "dbg", Host: "h", Port: 1, Hotpath: &hot})
	require.NoError(t, err)
	rt := &fakeRuntime{reg: reg}
	rt.handles = map[string]AgentHandle{"dbg": {AgentID: "dbg", ContainerID: "c-dbg"}}
	c := newTestController(reg, rt)

	result, err := c.DeleteAgent(context.Background(), "dbg", true)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, rt.removed, "dbg")

	_, getErr := reg.Get(context.Background(), "dbg")
	assert.Error(t, getErr)
}

func TestListHotpathReturnsOnlyFlaggedAgents(t *testing.T) {
	reg := registry.NewMemoryStore(time.Minute)
	hot := true
	_, err := reg.Register(context.Background(), registry.RegisterRequest{AgentID: "dbg", Host: "h", Port: 1, Hotpath: &hot})
	require.NoError(t, err)
	_, err = reg.Register(context.Background(), registry.RegisterRequest{AgentID: "worker-1", Host: "h", Port: 2})
	require.NoError(t, err)

	c := newTestController(reg, &fakeRuntime{reg: reg})
	recs, err := c.ListHotpath(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "dbg", recs[0].AgentID)
}
