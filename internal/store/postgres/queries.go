package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/coherence/internal/model"
	"github.com/alfredjeanlab/coherence/internal/store"
)

// agentColumns is the column list used for SELECT statements on the agents table.
const agentColumns = `id, display_name, user_id, pubkey, node_url, stake_tier,
	is_verified, active, max_actions_per_hour, code_execution_level, domains,
	calibration, reliability, constructiveness, security_hygiene,
	created_at, updated_at`

// taskColumns is the column list used for SELECT statements on the tasks table.
const taskColumns = `id, type, status, creator_id, target_claim_id, priority,
	sandbox_level, time_budget_sec, coherence_reward, assigned_agent_id,
	result_success, result_summary, evidence_ids, new_claim_ids, completed_at,
	created_at, updated_at`

const eventColumns = `id, event_type, source_agent_id, target_task_id, target_claim_id,
	payload, created_at, processed_at, error_message`

// PostgreSQL error codes mapped to store sentinels.
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// mapError translates constraint violations into store sentinels.
func mapError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case pqUniqueViolation:
		return fmt.Errorf("%w: %w", store.ErrConflict, err)
	case pqForeignKeyViolation:
		return fmt.Errorf("%w: %w", store.ErrReference, err)
	}
	return err
}

// --- Agents ---

func queryCreateAgent(ctx context.Context, db executor, a *model.Agent) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO agents (
			id, display_name, user_id, pubkey, node_url, stake_tier,
			is_verified, active, max_actions_per_hour, code_execution_level, domains,
			calibration, reliability, constructiveness, security_hygiene,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17
		)`,
		a.ID,
		a.DisplayName,
		nullString(a.UserID),
		nullString(a.Pubkey),
		nullString(a.NodeURL),
		string(a.StakeTier),
		a.IsVerified,
		a.Active,
		a.Capabilities.MaxActionsPerHour,
		a.Capabilities.CodeExecutionLevel,
		pq.Array(a.Domains),
		a.Reputation.Calibration,
		a.Reputation.Reliability,
		a.Reputation.Constructiveness,
		a.Reputation.SecurityHygiene,
		a.CreatedAt,
		a.UpdatedAt,
	)
	return mapError(err)
}

func queryGetAgent(ctx context.Context, db executor, id string) (*model.Agent, error) {
	row := db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	return scanAgent(row)
}

func queryGetAgentByPubkey(ctx context.Context, db executor, pubkey string) (*model.Agent, error) {
	row := db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE pubkey = $1`, pubkey)
	return scanAgent(row)
}

func queryRegisterAgentKey(ctx context.Context, db executor, agentID, pubkey, nodeURL string) (*model.Agent, error) {
	row := db.QueryRowContext(ctx, `
		UPDATE agents SET pubkey = $2, node_url = COALESCE($3, node_url), updated_at = now()
		WHERE id = $1
		RETURNING `+agentColumns,
		agentID, pubkey, nullString(nodeURL),
	)
	a, err := scanAgent(row)
	if err != nil {
		return nil, mapError(err)
	}
	return a, nil
}

func querySetAgentVerified(ctx context.Context, db executor, agentID string, verified bool) (*model.Agent, error) {
	row := db.QueryRowContext(ctx, `
		UPDATE agents SET is_verified = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+agentColumns,
		agentID, verified,
	)
	return scanAgent(row)
}

func queryDeactivateAgent(ctx context.Context, db executor, agentID string) (*model.Agent, error) {
	row := db.QueryRowContext(ctx, `
		UPDATE agents SET active = FALSE, updated_at = now()
		WHERE id = $1
		RETURNING `+agentColumns,
		agentID,
	)
	return scanAgent(row)
}

// --- Sessions ---

func queryCreateSession(ctx context.Context, db executor, s *model.Session) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sessions (token_hash, agent_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4)`,
		s.TokenHash, s.AgentID, s.CreatedAt, nullTime(s.ExpiresAt),
	)
	return mapError(err)
}

func queryGetSession(ctx context.Context, db executor, tokenHash string) (*model.Session, error) {
	var s model.Session
	var expiresAt sql.NullTime
	err := db.QueryRowContext(ctx, `
		SELECT token_hash, agent_id, created_at, expires_at
		FROM sessions WHERE token_hash = $1`, tokenHash,
	).Scan(&s.TokenHash, &s.AgentID, &s.CreatedAt, &expiresAt)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		s.ExpiresAt = expiresAt.Time
	}
	return &s, nil
}

// --- Tasks ---

func queryCreateTask(ctx context.Context, db executor, t *model.Task) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, type, status, creator_id, target_claim_id, priority,
			sandbox_level, time_budget_sec, coherence_reward, assigned_agent_id,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12
		)`,
		t.ID,
		string(t.Type),
		string(t.Status),
		nullString(t.CreatorID),
		nullString(t.TargetClaimID),
		t.Priority,
		t.SandboxLevel,
		t.TimeBudgetSec,
		t.CoherenceReward,
		nullString(t.AssignedAgentID),
		t.CreatedAt,
		t.UpdatedAt,
	)
	return mapError(err)
}

func queryGetTask(ctx context.Context, db executor, id string) (*model.Task, error) {
	row := db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	return scanTask(row)
}

func queryListOpenTasks(ctx context.Context, db executor, filter model.TaskFilter) ([]*model.Task, error) {
	filter = filter.Normalize()
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE status = 'open'`
	args := []any{}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY priority DESC, created_at ASC LIMIT $%d", len(args))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// queryClaimTask assigns an open task to agentID. The status predicate makes
// this a compare-and-swap: concurrent claimants race on the row and exactly
// one sees it returned; the rest get sql.ErrNoRows.
func queryClaimTask(ctx context.Context, db executor, taskID, agentID string) (*model.Task, error) {
	row := db.QueryRowContext(ctx, `
		UPDATE tasks SET assigned_agent_id = $2, status = 'claimed', updated_at = now()
		WHERE id = $1 AND status = 'open'
		RETURNING `+taskColumns,
		taskID, agentID,
	)
	t, err := scanTask(row)
	if err != nil {
		return nil, mapError(err)
	}
	return t, nil
}

// queryCompleteTask records a terminal result. Only the assignee of a task
// that is still claimed or in progress matches; anything else is sql.ErrNoRows.
func queryCompleteTask(ctx context.Context, db executor, taskID, agentID string, r *model.TaskResult) (*model.Task, error) {
	status := model.TaskFailed
	if r.Success {
		status = model.TaskDone
	}
	row := db.QueryRowContext(ctx, `
		UPDATE tasks SET
			status = $3,
			result_success = $4,
			result_summary = $5,
			evidence_ids = $6,
			new_claim_ids = $7,
			completed_at = $8,
			updated_at = $8
		WHERE id = $1 AND assigned_agent_id = $2 AND status IN ('claimed', 'in_progress')
		RETURNING `+taskColumns,
		taskID,
		agentID,
		string(status),
		r.Success,
		r.Summary,
		pq.Array(r.EvidenceIDs),
		pq.Array(r.NewClaimIDs),
		r.CompletedAt,
	)
	return scanTask(row)
}

// --- Claims and edges ---

func queryCreateClaim(ctx context.Context, db executor, c *model.Claim) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO claims (
			id, author_id, title, statement, confidence, assumptions,
			scope_domain, tags, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID,
		c.AuthorID,
		c.Title,
		c.Statement,
		c.Confidence,
		pq.Array(c.Assumptions),
		c.ScopeDomain,
		pq.Array(c.Tags),
		c.Status,
		c.CreatedAt,
	)
	return mapError(err)
}

func queryCreateEdge(ctx context.Context, db executor, e *model.Edge) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO edges (
			id, author_id, from_claim_id, to_claim_id, type, justification, weight, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID,
		e.AuthorID,
		e.FromClaimID,
		e.ToClaimID,
		string(e.Type),
		nullString(e.Justification),
		e.Weight,
		e.CreatedAt,
	)
	return mapError(err)
}

// --- Events ---

// queryRecordEvent appends an event and sets its ID.
func queryRecordEvent(ctx context.Context, db executor, e *model.Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return db.QueryRowContext(ctx, `
		INSERT INTO events (
			event_type, source_agent_id, target_task_id, target_claim_id,
			payload, created_at, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		e.Type,
		nullString(e.SourceAgentID),
		nullString(e.TargetTaskID),
		nullString(e.TargetClaimID),
		jsonbBytes(e.Payload),
		e.CreatedAt,
		nullString(e.ErrorMessage),
	).Scan(&e.ID)
}

func queryMarkEventProcessed(ctx context.Context, db executor, id int64, at time.Time) error {
	_, err := db.ExecContext(ctx,
		`UPDATE events SET processed_at = $2 WHERE id = $1 AND processed_at IS NULL`, id, at)
	return err
}

func queryMarkEventFailed(ctx context.Context, db executor, id int64, message string) error {
	res, err := db.ExecContext(ctx, `UPDATE events SET error_message = $2 WHERE id = $1`, id, message)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func queryListEventsAfter(ctx context.Context, db executor, afterID int64, limit int) ([]*model.Event, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id > $1 ORDER BY id ASC LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// --- Export cursors ---

// queryGetExportCursor returns 0 for a cursor that has never been set.
func queryGetExportCursor(ctx context.Context, db executor, name string) (int64, error) {
	var id int64
	err := db.QueryRowContext(ctx, `SELECT last_event_id FROM export_cursors WHERE name = $1`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

func querySetExportCursor(ctx context.Context, db executor, name string, eventID int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO export_cursors (name, last_event_id, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET last_event_id = EXCLUDED.last_event_id, updated_at = now()`,
		name, eventID,
	)
	return err
}

// --- Rate limits ---

// queryIncrementRateLimit opens, resets or increments the window for
// (agentID, endpoint) in one statement. The conflict arm only fires while the
// stored window is expired or still under limit, so two concurrent requests
// can never both take the last slot. No returned row means the request is
// over quota; the current window is then read for the reset time.
func queryIncrementRateLimit(ctx context.Context, db executor, agentID, endpoint string, limit int, window time.Duration, now time.Time) (*model.RateLimitWindow, bool, error) {
	w := &model.RateLimitWindow{AgentID: agentID, Endpoint: endpoint}
	cutoff := now.Add(-window)

	err := db.QueryRowContext(ctx, `
		INSERT INTO rate_limits (agent_id, endpoint, window_start, request_count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (agent_id, endpoint) DO UPDATE SET
			window_start = CASE WHEN rate_limits.window_start <= $4 THEN EXCLUDED.window_start ELSE rate_limits.window_start END,
			request_count = CASE WHEN rate_limits.window_start <= $4 THEN 1 ELSE rate_limits.request_count + 1 END
		WHERE rate_limits.window_start <= $4 OR rate_limits.request_count < $5
		RETURNING window_start, request_count`,
		agentID, endpoint, now, cutoff, limit,
	).Scan(&w.WindowStart, &w.RequestCount)
	if err == nil {
		return w, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	err = db.QueryRowContext(ctx, `
		SELECT window_start, request_count FROM rate_limits
		WHERE agent_id = $1 AND endpoint = $2`,
		agentID, endpoint,
	).Scan(&w.WindowStart, &w.RequestCount)
	if err != nil {
		return nil, false, err
	}
	return w, false, nil
}
