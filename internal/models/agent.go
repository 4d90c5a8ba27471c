package models

import "time"

// AgentRecord is the Agent Registry's (C3) view of one agent process.
type AgentRecord struct {
	AgentID        string      `json:"agent_id"`
	Host           string      `json:"host"`
	Port           int         `json:"port"`
	Status         AgentStatus `json:"status"`
	RegisteredAt   time.Time   `json:"registered_at"`
	LastHeartbeat  time.Time   `json:"last_heartbeat"`
	Hotpath        bool        `json:"hotpath"`
}

// IsHealthy reports liveness per spec §4.3: status=healthy and
// last_heartbeat within timeout of now.
func (a AgentRecord) IsHealthy(now time.Time, timeout time.Duration) bool {
	return a.Status == AgentHealthy && now.Sub(a.LastHeartbeat) <= timeout
}

// RegistryStats summarizes the registry for GET /stats.
type RegistryStats struct {
	Total       int       `json:"total"`
	Healthy     int       `json:"healthy"`
	Unhealthy   int       `json:"unhealthy"`
	LastUpdated time.Time `json:"last_updated"`
}
