package store

import (
	"context"
	"errors"
	"time"

	"github.com/alfredjeanlab/coherence/internal/model"
)

// Absent rows are reported as sql.ErrNoRows. Constraint violations are
// reported with the sentinels below, wrapped with the underlying error.
var (
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = errors.New("conflict")
	// ErrReference indicates a row refers to another row that does not exist.
	ErrReference = errors.New("referenced row does not exist")
)

// Store defines the persistence interface for the gateway.
type Store interface {
	// Agents
	CreateAgent(ctx context.Context, agent *model.Agent) error
	GetAgent(ctx context.Context, id string) (*model.Agent, error)
	GetAgentByPubkey(ctx context.Context, pubkey string) (*model.Agent, error)
	RegisterAgentKey(ctx context.Context, agentID, pubkey, nodeURL string) (*model.Agent, error)
	SetAgentVerified(ctx context.Context, agentID string, verified bool) (*model.Agent, error)
	DeactivateAgent(ctx context.Context, agentID string) (*model.Agent, error)

	// Sessions
	CreateSession(ctx context.Context, session *model.Session) error
	GetSession(ctx context.Context, tokenHash string) (*model.Session, error)

	// Tasks. ClaimTask and CompleteTask are conditional updates that return
	// sql.ErrNoRows when their precondition does not hold.
	CreateTask(ctx context.Context, task *model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListOpenTasks(ctx context.Context, filter model.TaskFilter) ([]*model.Task, error)
	ClaimTask(ctx context.Context, taskID, agentID string) (*model.Task, error)
	CompleteTask(ctx context.Context, taskID, agentID string, result *model.TaskResult) (*model.Task, error)

	// Claims and edges
	CreateClaim(ctx context.Context, claim *model.Claim) error
	CreateEdge(ctx context.Context, edge *model.Edge) error

	// Events
	RecordEvent(ctx context.Context, event *model.Event) error
	MarkEventProcessed(ctx context.Context, id int64, at time.Time) error
	MarkEventFailed(ctx context.Context, id int64, message string) error
	ListEventsAfter(ctx context.Context, afterID int64, limit int) ([]*model.Event, error)

	// Export cursors
	GetExportCursor(ctx context.Context, name string) (int64, error)
	SetExportCursor(ctx context.Context, name string, eventID int64) error

	// Rate limits
	IncrementRateLimit(ctx context.Context, agentID, endpoint string, limit int, window time.Duration, now time.Time) (*model.RateLimitWindow, bool, error)

	// Ping checks connectivity to the backing database.
	Ping(ctx context.Context) error

	// RunInTransaction executes fn within a database transaction.
	// If fn returns an error, the transaction is rolled back.
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	Close() error
}
