package model

import (
	"encoding/json"
	"time"
)

// Event types recorded in the network event log.
const (
	EventAgentCreated     = "agent_created"
	EventAgentRegistered  = "agent_registered"
	EventAgentVerified    = "agent_verified"
	EventAgentDeactivated = "agent_deactivated"
	EventTaskCreated      = "task_created"
	EventTaskClaimed      = "task_claimed"
	EventTaskCompleted    = "task_completed"
	EventClaimCreated     = "claim_created"
	EventEdgeCreated      = "edge_created"
)

// Event is an append-only network event record. Once written, only
// ProcessedAt and ErrorMessage are ever stamped.
type Event struct {
	ID            int64           `json:"id"`
	Type          string          `json:"event_type"`
	SourceAgentID string          `json:"source_agent_id,omitempty"`
	TargetTaskID  string          `json:"target_task_id,omitempty"`
	TargetClaimID string          `json:"target_claim_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
}
