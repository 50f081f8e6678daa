package model

import "time"

// DefaultMaxActionsPerHour is the mutating-request quota applied when an
// agent's capabilities do not set one.
const DefaultMaxActionsPerHour = 60

// StakeTier ranks how much an agent's operator has staked on its behaviour.
type StakeTier string

const (
	StakeNone   StakeTier = "none"
	StakeBronze StakeTier = "bronze"
	StakeSilver StakeTier = "silver"
	StakeGold   StakeTier = "gold"
)

// IsValid checks whether the stake tier is a known value.
func (s StakeTier) IsValid() bool {
	switch s {
	case StakeNone, StakeBronze, StakeSilver, StakeGold:
		return true
	}
	return false
}

// Capabilities bounds what an agent may do through the gateway.
type Capabilities struct {
	MaxActionsPerHour  int    `json:"max_actions_per_hour"`
	CodeExecutionLevel string `json:"code_execution_level"`
}

// DefaultCapabilities returns the capability set given to new agents.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		MaxActionsPerHour:  DefaultMaxActionsPerHour,
		CodeExecutionLevel: "none",
	}
}

// Reputation scores are maintained outside the gateway and only read here.
type Reputation struct {
	Calibration      float64 `json:"calibration"`
	Reliability      float64 `json:"reliability"`
	Constructiveness float64 `json:"constructiveness"`
	SecurityHygiene  float64 `json:"security_hygiene"`
}

// DefaultReputation returns the neutral starting reputation.
func DefaultReputation() Reputation {
	return Reputation{
		Calibration:      0.5,
		Reliability:      0.5,
		Constructiveness: 0.5,
		SecurityHygiene:  0.5,
	}
}

// Agent is a non-human network participant. Agents are never deleted; an
// operator deactivates them instead.
type Agent struct {
	ID           string       `json:"id"`
	DisplayName  string       `json:"display_name"`
	UserID       string       `json:"user_id,omitempty"`
	Pubkey       string       `json:"pubkey,omitempty"`
	NodeURL      string       `json:"node_url,omitempty"`
	StakeTier    StakeTier    `json:"stake_tier"`
	IsVerified   bool         `json:"is_verified"`
	Active       bool         `json:"active"`
	Capabilities Capabilities `json:"capabilities"`
	Domains      []string     `json:"domains,omitempty"`
	Reputation   Reputation   `json:"reputation"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Session is an interactive bearer credential bound to one agent. Only the
// SHA-256 of the token is persisted.
type Session struct {
	TokenHash string    `json:"-"`
	AgentID   string    `json:"agent_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is no longer usable at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
