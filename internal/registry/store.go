// Package registry implements the Agent Registry (C3): identity, liveness,
// hotpath residency, and health gating for the agent fleet, exposed as an
// HTTP surface via gin — mirroring the teacher's pkg/api handler style.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/logan-robbins/quadracode-sub000/internal/models"
)

// ErrHotpathAgent is returned by Remove when force=false and the agent is
// flagged hotpath=true.
var ErrHotpathAgent = errors.New("registry: hotpath agent requires force=true")

// ErrAgentNotFound is returned when the agent id is unknown.
var ErrAgentNotFound = errors.New("registry: agent not found")

// DefaultHealthTimeout is the default liveness window (spec §4.3).
const DefaultHealthTimeout = 45 * time.Second

// Store is the C3 contract.
type Store interface {
	Register(ctx context.Context, req RegisterRequest) (models.AgentRecord, error)
	Heartbeat(ctx context.Context, req HeartbeatRequest) error
	List(ctx context.Context, healthyOnly, hotpathOnly bool) ([]models.AgentRecord, error)
	Get(ctx context.Context, agentID string) (models.AgentRecord, error)
	SetHotpath(ctx context.Context, agentID string, hotpath bool) error
	Remove(ctx context.Context, agentID string, force bool) error
	Stats(ctx context.Context) (models.RegistryStats, error)
}

// RegisterRequest is the upsert payload for POST /agents/register.
type RegisterRequest struct {
	AgentID string
	Host    string
	Port    int
	Hotpath *bool // nil = leave existing hotpath flag untouched on upsert
}

// HeartbeatRequest is the payload for POST /agents/{id}/heartbeat.
type HeartbeatRequest struct {
	AgentID    string
	Status     models.AgentStatus
	ReportedAt time.Time
}

// MemoryStore is an in-process registry store. Healthiness is computed from
// Now() at query time, never stored, so heartbeats never race health reads.
type MemoryStore struct {
	mu            sync.RWMutex
	agents        map[string]models.AgentRecord
	healthTimeout time.Duration
	now           func() time.Time
}

// NewMemoryStore returns an empty registry with the given health timeout.
func NewMemoryStore(healthTimeout time.Duration) *MemoryStore {
	if healthTimeout <= 0 {
		healthTimeout = DefaultHealthTimeout
	}
	return &MemoryStore{
		agents:        make(map[string]models.AgentRecord),
		healthTimeout: healthTimeout,
		now:           time.Now,
	}
}

// Register upserts an agent record. A pre-existing hotpath=true flag is
// preserved across re-registration unless the caller explicitly clears it
// (Hotpath != nil), per spec §4.3.
func (s *MemoryStore) Register(_ context.Context, req RegisterRequest) (models.AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	existing, exists := s.agents[req.AgentID]

	rec := models.AgentRecord{
		AgentID:       req.AgentID,
		Host:          req.Host,
		Port:          req.Port,
		Status:        models.AgentHealthy,
		RegisteredAt:  now,
		LastHeartbeat: now,
	}
	if exists {
		rec.RegisteredAt = existing.RegisteredAt
		rec.Hotpath = existing.Hotpath
	}
	if req.Hotpath != nil {
		rec.Hotpath = *req.Hotpath
	}

	s.agents[req.AgentID] = rec
	return rec, nil
}

// Heartbeat updates last_heartbeat and status.
func (s *MemoryStore) Heartbeat(_ context.Context, req HeartbeatRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.agents[req.AgentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, req.AgentID)
	}
	rec.Status = req.Status
	rec.LastHeartbeat = req.ReportedAt
	s.agents[req.AgentID] = rec
	return nil
}

// List returns agents, optionally filtered by liveness and/or hotpath.
func (s *MemoryStore) List(_ context.Context, healthyOnly, hotpathOnly bool) ([]models.AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	out := make([]models.AgentRecord, 0, len(s.agents))
	for _, rec := range s.agents {
		if healthyOnly && !rec.IsHealthy(now, s.healthTimeout) {
			continue
		}
		if hotpathOnly && !rec.Hotpath {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

// Get returns a single agent record.
func (s *MemoryStore) Get(_ context.Context, agentID string) (models.AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.agents[agentID]
	if !ok {
		return models.AgentRecord{}, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return rec, nil
}

// SetHotpath flips the hotpath flag.
func (s *MemoryStore) SetHotpath(_ context.Context, agentID string, hotpath bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	rec.Hotpath = hotpath
	s.agents[agentID] = rec
	return nil
}

// Remove deletes an agent. Fails with ErrHotpathAgent unless force=true,
// per spec §4.3/§4.11 and scenario S5 — a hotpath agent is never silently
// removed.
func (s *MemoryStore) Remove(_ context.Context, agentID string, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	if rec.Hotpath && !force {
		return ErrHotpathAgent
	}
	delete(s.agents, agentID)
	return nil
}

// Stats summarizes the registry.
func (s *MemoryStore) Stats(_ context.Context) (models.RegistryStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	stats := models.RegistryStats{LastUpdated: now}
	for _, rec := range s.agents {
		stats.Total++
		if rec.IsHealthy(now, s.healthTimeout) {
			stats.Healthy++
		} else {
			stats.Unhealthy++
		}
	}
	return stats, nil
}

var _ Store = (*MemoryStore)(nil)
