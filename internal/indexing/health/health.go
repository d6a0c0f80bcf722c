// Package health provides system health monitoring and status reporting.
package health

import "time"

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ChainHealth contains health metrics for the ledger of one chain.
type ChainHealth struct {
	ChainID          string            `json:"chain_id"`
	Status           SystemStatus      `json:"status"`
	CheckpointHeight uint64            `json:"checkpoint_height"`
	CheckpointHash   string            `json:"checkpoint_hash,omitempty"`
	CheckpointAge    string            `json:"checkpoint_age,omitempty"`
	PendingFailures  int               `json:"pending_failures"`
	Dependencies     map[string]string `json:"dependencies,omitempty"`
	CheckedAt        time.Time         `json:"checked_at"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus           `json:"system_status"`
	Chains       map[string]ChainHealth `json:"chains"`
}
