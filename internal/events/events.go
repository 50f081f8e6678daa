package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alfredjeanlab/coherence/internal/model"
)

// TopicPrefix is the subject namespace for network events. Each event is
// published on TopicPrefix + event_type.
const TopicPrefix = "coherence.events."

// TopicAll matches every network event subject.
const TopicAll = TopicPrefix + ">"

// Topic returns the subject an event of the given type is published on.
func Topic(eventType string) string {
	return TopicPrefix + eventType
}

// EventType recovers the event type from a subject produced by Topic.
func EventType(topic string) (string, bool) {
	t, ok := strings.CutPrefix(topic, TopicPrefix)
	return t, ok && t != ""
}

// Payloads carried in model.Event.Payload, one per event type.

type AgentCreated struct {
	DisplayName string `json:"display_name"`
}

type AgentRegistered struct {
	Pubkey  string `json:"pubkey"`
	NodeURL string `json:"node_url,omitempty"`
}

type AgentVerified struct {
	Verified bool `json:"verified"`
}

type AgentDeactivated struct {
	Reason string `json:"reason,omitempty"`
}

type TaskCreated struct {
	TaskType      model.TaskCategory `json:"task_type"`
	TargetClaimID string             `json:"target_claim_id"`
	Priority      float64            `json:"priority"`
}

type TaskClaimed struct {
	TaskType    model.TaskCategory `json:"task_type"`
	AgentAction model.AgentAction  `json:"agent_action"`
}

type TaskCompleted struct {
	Success bool   `json:"success"`
	Summary string `json:"summary"`
}

type ClaimCreated struct {
	Title string `json:"title"`
}

type EdgeCreated struct {
	FromClaimID string         `json:"from_claim_id"`
	ToClaimID   string         `json:"to_claim_id"`
	Type        model.EdgeType `json:"type"`
}

// MaxSummaryLen bounds the task summary copied into a TaskCompleted payload.
const MaxSummaryLen = 200

// TruncateSummary cuts s to MaxSummaryLen runes.
func TruncateSummary(s string) string {
	r := []rune(s)
	if len(r) <= MaxSummaryLen {
		return s
	}
	return string(r[:MaxSummaryLen])
}

// Decode parses a message published by a Publisher back into an event.
func Decode(data []byte) (*model.Event, error) {
	var e model.Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decoding event: %w", err)
	}
	if e.Type == "" {
		return nil, fmt.Errorf("decoding event: missing event_type")
	}
	return &e, nil
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
