package postgres

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/coherence/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanAgent scans a single row into a model.Agent.
// The row must contain columns in the order defined by agentColumns.
func scanAgent(row scannable) (*model.Agent, error) {
	var a model.Agent
	var (
		userID  sql.NullString
		pubkey  sql.NullString
		nodeURL sql.NullString
	)
	err := row.Scan(
		&a.ID,
		&a.DisplayName,
		&userID,
		&pubkey,
		&nodeURL,
		&a.StakeTier,
		&a.IsVerified,
		&a.Active,
		&a.Capabilities.MaxActionsPerHour,
		&a.Capabilities.CodeExecutionLevel,
		pq.Array(&a.Domains),
		&a.Reputation.Calibration,
		&a.Reputation.Reliability,
		&a.Reputation.Constructiveness,
		&a.Reputation.SecurityHygiene,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.UserID = userID.String
	a.Pubkey = pubkey.String
	a.NodeURL = nodeURL.String
	return &a, nil
}

// scanTask scans a single row into a model.Task.
// The row must contain columns in the order defined by taskColumns.
func scanTask(row scannable) (*model.Task, error) {
	var t model.Task
	var (
		creatorID     sql.NullString
		targetClaimID sql.NullString
		assignedTo    sql.NullString
		success       sql.NullBool
		summary       sql.NullString
		evidenceIDs   []string
		newClaimIDs   []string
		completedAt   sql.NullTime
	)
	err := row.Scan(
		&t.ID,
		&t.Type,
		&t.Status,
		&creatorID,
		&targetClaimID,
		&t.Priority,
		&t.SandboxLevel,
		&t.TimeBudgetSec,
		&t.CoherenceReward,
		&assignedTo,
		&success,
		&summary,
		pq.Array(&evidenceIDs),
		pq.Array(&newClaimIDs),
		&completedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.CreatorID = creatorID.String
	t.TargetClaimID = targetClaimID.String
	t.AssignedAgentID = assignedTo.String
	if success.Valid {
		t.Result = &model.TaskResult{
			Success:     success.Bool,
			Summary:     summary.String,
			EvidenceIDs: evidenceIDs,
			NewClaimIDs: newClaimIDs,
			CompletedAt: completedAt.Time,
		}
	}
	return &t, nil
}

// scanTasks scans multiple rows into a slice of model.Task pointers.
func scanTasks(rows *sql.Rows) ([]*model.Task, error) {
	var tasks []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// scanEvent scans a single row into a model.Event.
func scanEvent(row scannable) (*model.Event, error) {
	var e model.Event
	var (
		source      sql.NullString
		taskID      sql.NullString
		claimID     sql.NullString
		payload     []byte
		processedAt sql.NullTime
		errMsg      sql.NullString
	)
	err := row.Scan(&e.ID, &e.Type, &source, &taskID, &claimID, &payload, &e.CreatedAt, &processedAt, &errMsg)
	if err != nil {
		return nil, err
	}
	e.SourceAgentID = source.String
	e.TargetTaskID = taskID.String
	e.TargetClaimID = claimID.String
	e.ErrorMessage = errMsg.String
	if len(payload) > 0 {
		e.Payload = json.RawMessage(payload)
	}
	if processedAt.Valid {
		t := processedAt.Time
		e.ProcessedAt = &t
	}
	return &e, nil
}

// scanEvents scans multiple rows into a slice of model.Event pointers.
func scanEvents(rows *sql.Rows) ([]*model.Event, error) {
	var events []*model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// nullTime converts a time to sql.NullTime; the zero time is null.
func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

// nullString converts a string to sql.NullString; empty string is null.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// jsonbBytes converts json.RawMessage to a []byte suitable for JSONB columns.
func jsonbBytes(m json.RawMessage) []byte {
	if len(m) == 0 {
		return nil
	}
	return []byte(m)
}
