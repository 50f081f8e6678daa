package model

import "time"

// RateLimitWindow is the quota counter for one agent and endpoint. After
// every successful increment RequestCount is at most the caller's limit.
type RateLimitWindow struct {
	AgentID      string    `json:"agent_id"`
	Endpoint     string    `json:"endpoint"`
	WindowStart  time.Time `json:"window_start"`
	RequestCount int       `json:"request_count"`
}
