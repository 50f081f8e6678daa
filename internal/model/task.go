package model

import "time"

// TaskStatus is the lifecycle state of a task.
//
//	open -> claimed -> in_progress -> {done, failed}
//
// The gateway drives open -> claimed and claimed|in_progress -> done|failed.
type TaskStatus string

const (
	TaskOpen       TaskStatus = "open"
	TaskClaimed    TaskStatus = "claimed"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskFailed     TaskStatus = "failed"
)

// IsValid checks whether the status is a known value.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskOpen, TaskClaimed, TaskInProgress, TaskDone, TaskFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskDone || s == TaskFailed
}

// HasAssignee reports whether a task in this status must carry an
// assigned agent.
func (s TaskStatus) HasAssignee() bool {
	return s != TaskOpen
}

// CanTransition reports whether moving from s to next is a legal step.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case TaskOpen:
		return next == TaskClaimed
	case TaskClaimed:
		return next == TaskInProgress || next == TaskDone || next == TaskFailed
	case TaskInProgress:
		return next == TaskDone || next == TaskFailed
	}
	return false
}

// TaskCategory is the kind of work a task asks for.
type TaskCategory string

const (
	CategoryVerify         TaskCategory = "VERIFY"
	CategoryCounterexample TaskCategory = "COUNTEREXAMPLE"
	CategorySynthesize     TaskCategory = "SYNTHESIZE"
	CategorySecurityReview TaskCategory = "SECURITY_REVIEW"
	CategoryTraceRepro     TaskCategory = "TRACE_REPRO"
)

// IsValid checks whether the category is one of the known categories.
func (c TaskCategory) IsValid() bool {
	switch c {
	case CategoryVerify, CategoryCounterexample, CategorySynthesize, CategorySecurityReview, CategoryTraceRepro:
		return true
	}
	return false
}

// AgentAction names the routine downstream agent tooling runs for a task.
type AgentAction struct {
	Skill  string `json:"skill"`
	Action string `json:"action"`
}

// DefaultAgentAction is returned for categories without a dedicated routine.
var DefaultAgentAction = AgentAction{Skill: "semantic", Action: "think"}

// ActionFor maps a task category to its agent action. It never fails:
// unmapped categories get DefaultAgentAction.
func ActionFor(c TaskCategory) AgentAction {
	switch c {
	case CategoryVerify:
		return AgentAction{Skill: "semantic", Action: "think_and_compare"}
	case CategoryCounterexample:
		return AgentAction{Skill: "semantic", Action: "adversarial_think"}
	case CategorySynthesize:
		return AgentAction{Skill: "semantic", Action: "aggregate_and_remember"}
	case CategorySecurityReview:
		return AgentAction{Skill: "safety", Action: "classify_risks"}
	case CategoryTraceRepro:
		return AgentAction{Skill: "execution", Action: "reproduce_steps"}
	default:
		return DefaultAgentAction
	}
}

// Defaults applied to new tasks.
const (
	DefaultTaskPriority    = 0.5
	DefaultSandboxLevel    = "safe_fetch_only"
	DefaultTimeBudgetSec   = 3600
	DefaultCoherenceReward = 10
)

// TaskResult is recorded when the assignee submits a terminal outcome.
type TaskResult struct {
	Success     bool      `json:"success"`
	Summary     string    `json:"summary"`
	EvidenceIDs []string  `json:"evidence_ids,omitempty"`
	NewClaimIDs []string  `json:"new_claim_ids,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Task is a unit of work agents compete to claim.
type Task struct {
	ID              string       `json:"id"`
	Type            TaskCategory `json:"type"`
	Status          TaskStatus   `json:"status"`
	CreatorID       string       `json:"creator_id,omitempty"`
	TargetClaimID   string       `json:"target_claim_id,omitempty"`
	Priority        float64      `json:"priority"`
	SandboxLevel    string       `json:"sandbox_level"`
	TimeBudgetSec   int          `json:"time_budget_sec"`
	CoherenceReward int          `json:"coherence_reward"`
	AssignedAgentID string       `json:"assigned_agent_id,omitempty"`
	Result          *TaskResult  `json:"result,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// AgentAction returns the action mapped from the task's category.
func (t *Task) AgentAction() AgentAction {
	return ActionFor(t.Type)
}

// ApplyDefaults fills zero-valued optional fields with their defaults.
func (t *Task) ApplyDefaults() {
	if t.Status == "" {
		t.Status = TaskOpen
	}
	if t.Priority == 0 {
		t.Priority = DefaultTaskPriority
	}
	if t.SandboxLevel == "" {
		t.SandboxLevel = DefaultSandboxLevel
	}
	if t.TimeBudgetSec == 0 {
		t.TimeBudgetSec = DefaultTimeBudgetSec
	}
	if t.CoherenceReward == 0 {
		t.CoherenceReward = DefaultCoherenceReward
	}
}

// TaskFilter narrows a task listing. Only open tasks are ever listed.
type TaskFilter struct {
	Type  TaskCategory
	Limit int
}

// Listing bounds.
const (
	DefaultTaskListLimit = 20
	MaxTaskListLimit     = 100
)

// Normalize clamps the limit into [1, MaxTaskListLimit].
func (f TaskFilter) Normalize() TaskFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultTaskListLimit
	}
	if f.Limit > MaxTaskListLimit {
		f.Limit = MaxTaskListLimit
	}
	return f
}
