package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/coherence/internal/events"
	"github.com/alfredjeanlab/coherence/internal/idgen"
	"github.com/alfredjeanlab/coherence/internal/model"
	"github.com/alfredjeanlab/coherence/internal/store"
)

// taskView is the listing shape of a task.
type taskView struct {
	TaskID          string             `json:"task_id"`
	Type            model.TaskCategory `json:"type"`
	Status          model.TaskStatus   `json:"status"`
	Priority        float64            `json:"priority"`
	CoherenceReward int                `json:"coherence_reward"`
	TargetClaimID   string             `json:"target_claim_id,omitempty"`
	AssignedAgentID string             `json:"assigned_agent_id,omitempty"`
	Constraints     taskConstraints    `json:"constraints"`
	AgentAction     model.AgentAction  `json:"agent_action"`
	Result          *model.TaskResult  `json:"result,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}

type taskConstraints struct {
	Sandbox       string `json:"sandbox"`
	TimeBudgetSec int    `json:"time_budget_sec"`
}

func newTaskView(t *model.Task) taskView {
	return taskView{
		TaskID:          t.ID,
		Type:            t.Type,
		Status:          t.Status,
		Priority:        t.Priority,
		CoherenceReward: t.CoherenceReward,
		TargetClaimID:   t.TargetClaimID,
		AssignedAgentID: t.AssignedAgentID,
		Constraints:     taskConstraints{Sandbox: t.SandboxLevel, TimeBudgetSec: t.TimeBudgetSec},
		AgentAction:     t.AgentAction(),
		Result:          t.Result,
		CreatedAt:       t.CreatedAt,
	}
}

type claimTaskInput struct {
	TaskID string `json:"task_id"`
}

type claimTaskOutput struct {
	TaskID      string            `json:"task_id"`
	Status      model.TaskStatus  `json:"status"`
	AgentAction model.AgentAction `json:"agent_action"`
}

// claimTask handles POST /v1/claim-task. The store update only matches an
// open task, so of any number of concurrent claimants exactly one wins.
func (g *Gateway) claimTask(ctx context.Context, req *actionRequest) (int, any, error) {
	agent, err := req.requireAgent()
	if err != nil {
		return 0, nil, err
	}
	var in claimTaskInput
	if err := req.decode(&in); err != nil {
		return 0, nil, err
	}
	if in.TaskID == "" {
		return 0, nil, validationError("task_id is required")
	}

	task, err := g.store.ClaimTask(ctx, in.TaskID, agent.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, g.unclaimable(ctx, in.TaskID)
	}
	if errors.Is(err, store.ErrReference) {
		return 0, nil, notFoundError("task not found")
	}
	if err != nil {
		return 0, nil, storageError("claim task", err)
	}

	action := task.AgentAction()
	g.emit(ctx, emitted{
		eventType: model.EventTaskClaimed,
		agentID:   agent.ID,
		taskID:    task.ID,
		payload:   events.TaskClaimed{TaskType: task.Type, AgentAction: action},
	})
	return http.StatusOK, claimTaskOutput{TaskID: task.ID, Status: task.Status, AgentAction: action}, nil
}

// unclaimable explains a lost claim: the task is either missing or no
// longer open.
func (g *Gateway) unclaimable(ctx context.Context, taskID string) error {
	_, err := g.store.GetTask(ctx, taskID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return notFoundError("task not found")
	case err != nil:
		return storageError("look up task", err)
	}
	return conflictError("task not available")
}

type submitResultInput struct {
	TaskID      string   `json:"task_id"`
	Success     *bool    `json:"success"`
	Summary     string   `json:"summary"`
	EvidenceIDs []string `json:"evidence_ids"`
	NewClaimIDs []string `json:"new_claim_ids"`
}

type submitResultOutput struct {
	TaskID string           `json:"task_id"`
	Status model.TaskStatus `json:"status"`
}

// submitResult handles POST /v1/submit-result. Only the assignee of a task
// that is still in flight can complete it; anyone else gets 403, whether or
// not the task exists.
func (g *Gateway) submitResult(ctx context.Context, req *actionRequest) (int, any, error) {
	agent, err := req.requireAgent()
	if err != nil {
		return 0, nil, err
	}
	var in submitResultInput
	if err := req.decode(&in); err != nil {
		return 0, nil, err
	}
	if in.TaskID == "" || in.Success == nil || strings.TrimSpace(in.Summary) == "" {
		return 0, nil, validationError("task_id, success, and summary are required")
	}

	result := &model.TaskResult{
		Success:     *in.Success,
		Summary:     in.Summary,
		EvidenceIDs: in.EvidenceIDs,
		NewClaimIDs: in.NewClaimIDs,
		CompletedAt: g.now().UTC(),
	}
	task, err := g.store.CompleteTask(ctx, in.TaskID, agent.ID, result)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, authorizationError("not the task assignee")
	}
	if err != nil {
		return 0, nil, storageError("complete task", err)
	}

	g.emit(ctx, emitted{
		eventType: model.EventTaskCompleted,
		agentID:   agent.ID,
		taskID:    task.ID,
		payload:   events.TaskCompleted{Success: result.Success, Summary: events.TruncateSummary(result.Summary)},
	})
	return http.StatusOK, submitResultOutput{TaskID: task.ID, Status: task.Status}, nil
}

type createTaskInput struct {
	Type            model.TaskCategory `json:"type"`
	TargetClaimID   string             `json:"target_claim_id"`
	Priority        *float64           `json:"priority"`
	SandboxLevel    string             `json:"sandbox_level"`
	TimeBudgetSec   *int               `json:"time_budget_sec"`
	CoherenceReward *int               `json:"coherence_reward"`
}

// createTask handles POST /v1/tasks.
func (g *Gateway) createTask(ctx context.Context, req *actionRequest) (int, any, error) {
	agent, err := req.requireAgent()
	if err != nil {
		return 0, nil, err
	}
	var in createTaskInput
	if err := req.decode(&in); err != nil {
		return 0, nil, err
	}

	id, err := idgen.Task()
	if err != nil {
		return 0, nil, storageError("generate id", err)
	}
	now := g.now().UTC()
	task := &model.Task{
		ID:            id,
		Type:          in.Type,
		Status:        model.TaskOpen,
		CreatorID:     agent.ID,
		TargetClaimID: in.TargetClaimID,
		SandboxLevel:  in.SandboxLevel,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	task.ApplyDefaults()
	if in.Priority != nil {
		task.Priority = *in.Priority
	}
	if in.TimeBudgetSec != nil {
		task.TimeBudgetSec = *in.TimeBudgetSec
	}
	if in.CoherenceReward != nil {
		task.CoherenceReward = *in.CoherenceReward
	}
	if err := model.ValidateTask(task); err != nil {
		return 0, nil, err
	}

	if err := g.store.CreateTask(ctx, task); err != nil {
		if errors.Is(err, store.ErrReference) {
			return 0, nil, notFoundError("claim not found")
		}
		return 0, nil, storageError("create task", err)
	}

	g.emit(ctx, emitted{
		eventType: model.EventTaskCreated,
		agentID:   agent.ID,
		taskID:    task.ID,
		claimID:   task.TargetClaimID,
		payload: events.TaskCreated{
			TaskType:      task.Type,
			TargetClaimID: task.TargetClaimID,
			Priority:      task.Priority,
		},
	})
	return http.StatusCreated, newTaskView(task), nil
}

// handleListTasks handles GET /v1/tasks.
func (g *Gateway) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.TaskFilter{Type: model.TaskCategory(q.Get("type"))}
	if filter.Type != "" && !filter.Type.IsValid() {
		writeError(w, r, validationError(fmt.Sprintf("invalid task type %q", filter.Type)))
		return
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, validationError("limit must be an integer"))
			return
		}
		filter.Limit = n
	}

	tasks, err := g.store.ListOpenTasks(r.Context(), filter.Normalize())
	if err != nil {
		writeError(w, r, storageError("list tasks", err))
		return
	}
	views := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, newTaskView(t))
	}
	writeJSON(w, r, http.StatusOK, views)
}

// handleGetTask handles GET /v1/tasks/{id}.
func (g *Gateway) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := g.store.GetTask(r.Context(), r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, r, notFoundError("task not found"))
		return
	}
	if err != nil {
		writeError(w, r, storageError("get task", err))
		return
	}
	writeJSON(w, r, http.StatusOK, newTaskView(task))
}
