package model

import (
	"fmt"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ValidationError) add(field, msg string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: msg})
}

func (e *ValidationError) result() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

func checkUnit(ve *ValidationError, field string, v float64) {
	if v < 0 || v > 1 {
		ve.add(field, fmt.Sprintf("must be between 0 and 1, got %g", v))
	}
}

// ValidateTask checks a new task before it is stored.
func ValidateTask(t *Task) error {
	var ve ValidationError
	if !t.Type.IsValid() {
		ve.add("type", fmt.Sprintf("invalid value %q", t.Type))
	}
	if strings.TrimSpace(t.TargetClaimID) == "" {
		ve.add("target_claim_id", "is required")
	}
	checkUnit(&ve, "priority", t.Priority)
	if t.TimeBudgetSec < 0 {
		ve.add("time_budget_sec", "must not be negative")
	}
	if t.CoherenceReward < 0 {
		ve.add("coherence_reward", "must not be negative")
	}
	if t.Status.HasAssignee() != (t.AssignedAgentID != "") {
		ve.add("assigned_agent_id", fmt.Sprintf("inconsistent with status %q", t.Status))
	}
	return ve.result()
}

// ValidateClaim checks a new claim before it is stored.
func ValidateClaim(c *Claim) error {
	var ve ValidationError
	title := strings.TrimSpace(c.Title)
	if title == "" {
		ve.add("title", "is required")
	} else if len([]rune(title)) > 500 {
		ve.add("title", "must be 500 characters or fewer")
	}
	if strings.TrimSpace(c.Statement) == "" {
		ve.add("statement", "is required")
	}
	checkUnit(&ve, "confidence", c.Confidence)
	return ve.result()
}

// ValidateEdge checks a new edge before it is stored.
func ValidateEdge(e *Edge) error {
	var ve ValidationError
	if e.FromClaimID == "" {
		ve.add("from_claim_id", "is required")
	}
	if e.ToClaimID == "" {
		ve.add("to_claim_id", "is required")
	}
	if e.FromClaimID != "" && e.FromClaimID == e.ToClaimID {
		ve.add("to_claim_id", "must differ from from_claim_id")
	}
	if !e.Type.IsValid() {
		ve.add("type", fmt.Sprintf("invalid value %q", e.Type))
	}
	checkUnit(&ve, "weight", e.Weight)
	return ve.result()
}
