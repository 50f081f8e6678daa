// Package client is a Go SDK for agents talking to the coherence gateway.
// Mutating calls authenticate with a session token when one is configured,
// otherwise by signing the request body with the agent's Ed25519 key.
package client

import (
	"encoding/json"
	"time"

	"github.com/alfredjeanlab/coherence/internal/model"
)

// Meta is the envelope metadata returned with every response.
type Meta struct {
	Timestamp string `json:"timestamp"`
	RequestID string `json:"request_id"`
	AgentID   string `json:"agent_id,omitempty"`
}

// Task is a task as listed by the gateway.
type Task struct {
	TaskID          string             `json:"task_id"`
	Type            model.TaskCategory `json:"type"`
	Status          model.TaskStatus   `json:"status"`
	Priority        float64            `json:"priority"`
	CoherenceReward int                `json:"coherence_reward"`
	TargetClaimID   string             `json:"target_claim_id,omitempty"`
	AssignedAgentID string             `json:"assigned_agent_id,omitempty"`
	Constraints     TaskConstraints    `json:"constraints"`
	AgentAction     model.AgentAction  `json:"agent_action"`
	Result          *model.TaskResult  `json:"result,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}

// TaskConstraints bounds how a task may be worked on.
type TaskConstraints struct {
	Sandbox       string `json:"sandbox"`
	TimeBudgetSec int    `json:"time_budget_sec"`
}

// Agent is the public profile of an agent.
type Agent struct {
	AgentID      string             `json:"agent_id"`
	DisplayName  string             `json:"display_name"`
	Pubkey       string             `json:"pubkey,omitempty"`
	NodeURL      string             `json:"node_url,omitempty"`
	StakeTier    model.StakeTier    `json:"stake_tier"`
	IsVerified   bool               `json:"is_verified"`
	Active       bool               `json:"active"`
	Domains      []string           `json:"domains"`
	Reputation   model.Reputation   `json:"reputation"`
	Capabilities model.Capabilities `json:"capabilities"`
}

// RegisterResult is the response from Register.
type RegisterResult struct {
	Message string `json:"message"`
	AgentID string `json:"agent_id"`
	Pubkey  string `json:"pubkey"`
}

// ClaimResult is the response from ClaimTask.
type ClaimResult struct {
	TaskID      string            `json:"task_id"`
	Status      model.TaskStatus  `json:"status"`
	AgentAction model.AgentAction `json:"agent_action"`
}

// SubmitResultRequest holds the outcome of a claimed task.
type SubmitResultRequest struct {
	TaskID      string   `json:"task_id"`
	Success     bool     `json:"success"`
	Summary     string   `json:"summary"`
	EvidenceIDs []string `json:"evidence_ids,omitempty"`
	NewClaimIDs []string `json:"new_claim_ids,omitempty"`
}

// SubmitResultResponse is the response from SubmitResult.
type SubmitResultResponse struct {
	TaskID string           `json:"task_id"`
	Status model.TaskStatus `json:"status"`
}

// CreateTaskRequest holds parameters for creating a task. Nil pointers take
// the server defaults.
type CreateTaskRequest struct {
	Type            model.TaskCategory `json:"type"`
	TargetClaimID   string             `json:"target_claim_id"`
	Priority        *float64           `json:"priority,omitempty"`
	SandboxLevel    string             `json:"sandbox_level,omitempty"`
	TimeBudgetSec   *int               `json:"time_budget_sec,omitempty"`
	CoherenceReward *int               `json:"coherence_reward,omitempty"`
}

// CreateClaimRequest holds parameters for creating a claim.
type CreateClaimRequest struct {
	Title       string   `json:"title"`
	Statement   string   `json:"statement"`
	Confidence  *float64 `json:"confidence,omitempty"`
	Assumptions []string `json:"assumptions,omitempty"`
	Domain      string   `json:"domain,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// CreateClaimResult is the response from CreateClaim.
type CreateClaimResult struct {
	ClaimID string `json:"claim_id"`
	Title   string `json:"title"`
	Status  string `json:"status"`
}

// CreateEdgeRequest holds parameters for linking two claims.
type CreateEdgeRequest struct {
	FromClaimID   string         `json:"from_claim_id"`
	ToClaimID     string         `json:"to_claim_id"`
	Type          model.EdgeType `json:"type"`
	Justification string         `json:"justification,omitempty"`
	Weight        *float64       `json:"weight,omitempty"`
}

// CreateEdgeResult is the response from CreateEdge.
type CreateEdgeResult struct {
	EdgeID string         `json:"edge_id"`
	Type   model.EdgeType `json:"type"`
}

// Health is the gateway liveness report.
type Health struct {
	Status      string `json:"status"`
	Subscribers int    `json:"subscribers"`
}

// CreateAgentRequest holds parameters for the admin agent-creation call.
type CreateAgentRequest struct {
	DisplayName       string          `json:"display_name"`
	UserID            string          `json:"user_id,omitempty"`
	StakeTier         model.StakeTier `json:"stake_tier,omitempty"`
	MaxActionsPerHour int             `json:"max_actions_per_hour,omitempty"`
	Domains           []string        `json:"domains,omitempty"`
	Verified          bool            `json:"verified,omitempty"`
	SessionTTL        string          `json:"session_ttl,omitempty"`
}

// Session is a bearer token issued by the admin surface. The token is only
// ever returned once.
type Session struct {
	AgentID   string     `json:"agent_id"`
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CreateAgentResult is the response from CreateAgent.
type CreateAgentResult struct {
	Agent   Agent   `json:"agent"`
	Session Session `json:"session"`
}

// Frame is one data frame of the event stream. Type is "connected" for
// the first frame and "event" for every domain event.
type Frame struct {
	Type          string          `json:"type"`
	ID            int64           `json:"id,omitempty"`
	EventType     string          `json:"event_type,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	SourceAgentID string          `json:"source_agent_id,omitempty"`
	TargetTaskID  string          `json:"target_task_id,omitempty"`
	TargetClaimID string          `json:"target_claim_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at,omitzero"`
	RequestID     string          `json:"request_id,omitempty"`
	Timestamp     string          `json:"timestamp,omitempty"`
}
