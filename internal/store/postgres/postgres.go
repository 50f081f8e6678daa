// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/coherence/internal/model"
	"github.com/alfredjeanlab/coherence/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewWithDB wraps an already-open database without running migrations.
func NewWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateAgent(ctx context.Context, agent *model.Agent) error {
	return queryCreateAgent(ctx, s.db, agent)
}

func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	return queryGetAgent(ctx, s.db, id)
}

func (s *PostgresStore) GetAgentByPubkey(ctx context.Context, pubkey string) (*model.Agent, error) {
	return queryGetAgentByPubkey(ctx, s.db, pubkey)
}

func (s *PostgresStore) RegisterAgentKey(ctx context.Context, agentID, pubkey, nodeURL string) (*model.Agent, error) {
	return queryRegisterAgentKey(ctx, s.db, agentID, pubkey, nodeURL)
}

func (s *PostgresStore) SetAgentVerified(ctx context.Context, agentID string, verified bool) (*model.Agent, error) {
	return querySetAgentVerified(ctx, s.db, agentID, verified)
}

func (s *PostgresStore) DeactivateAgent(ctx context.Context, agentID string) (*model.Agent, error) {
	return queryDeactivateAgent(ctx, s.db, agentID)
}

func (s *PostgresStore) CreateSession(ctx context.Context, session *model.Session) error {
	return queryCreateSession(ctx, s.db, session)
}

func (s *PostgresStore) GetSession(ctx context.Context, tokenHash string) (*model.Session, error) {
	return queryGetSession(ctx, s.db, tokenHash)
}

func (s *PostgresStore) CreateTask(ctx context.Context, task *model.Task) error {
	return queryCreateTask(ctx, s.db, task)
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	return queryGetTask(ctx, s.db, id)
}

func (s *PostgresStore) ListOpenTasks(ctx context.Context, filter model.TaskFilter) ([]*model.Task, error) {
	return queryListOpenTasks(ctx, s.db, filter)
}

func (s *PostgresStore) ClaimTask(ctx context.Context, taskID, agentID string) (*model.Task, error) {
	return queryClaimTask(ctx, s.db, taskID, agentID)
}

func (s *PostgresStore) CompleteTask(ctx context.Context, taskID, agentID string, result *model.TaskResult) (*model.Task, error) {
	return queryCompleteTask(ctx, s.db, taskID, agentID, result)
}

func (s *PostgresStore) CreateClaim(ctx context.Context, claim *model.Claim) error {
	return queryCreateClaim(ctx, s.db, claim)
}

func (s *PostgresStore) CreateEdge(ctx context.Context, edge *model.Edge) error {
	return queryCreateEdge(ctx, s.db, edge)
}

func (s *PostgresStore) RecordEvent(ctx context.Context, event *model.Event) error {
	return queryRecordEvent(ctx, s.db, event)
}

func (s *PostgresStore) MarkEventProcessed(ctx context.Context, id int64, at time.Time) error {
	return queryMarkEventProcessed(ctx, s.db, id, at)
}

func (s *PostgresStore) MarkEventFailed(ctx context.Context, id int64, message string) error {
	return queryMarkEventFailed(ctx, s.db, id, message)
}

func (s *PostgresStore) ListEventsAfter(ctx context.Context, afterID int64, limit int) ([]*model.Event, error) {
	return queryListEventsAfter(ctx, s.db, afterID, limit)
}

func (s *PostgresStore) GetExportCursor(ctx context.Context, name string) (int64, error) {
	return queryGetExportCursor(ctx, s.db, name)
}

func (s *PostgresStore) SetExportCursor(ctx context.Context, name string, eventID int64) error {
	return querySetExportCursor(ctx, s.db, name, eventID)
}

func (s *PostgresStore) IncrementRateLimit(ctx context.Context, agentID, endpoint string, limit int, window time.Duration, now time.Time) (*model.RateLimitWindow, bool, error) {
	return queryIncrementRateLimit(ctx, s.db, agentID, endpoint, limit, window, now)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txS := &txStore{tx: tx}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

func (s *txStore) CreateAgent(ctx context.Context, agent *model.Agent) error {
	return queryCreateAgent(ctx, s.tx, agent)
}

func (s *txStore) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	return queryGetAgent(ctx, s.tx, id)
}

func (s *txStore) GetAgentByPubkey(ctx context.Context, pubkey string) (*model.Agent, error) {
	return queryGetAgentByPubkey(ctx, s.tx, pubkey)
}

func (s *txStore) RegisterAgentKey(ctx context.Context, agentID, pubkey, nodeURL string) (*model.Agent, error) {
	return queryRegisterAgentKey(ctx, s.tx, agentID, pubkey, nodeURL)
}

func (s *txStore) SetAgentVerified(ctx context.Context, agentID string, verified bool) (*model.Agent, error) {
	return querySetAgentVerified(ctx, s.tx, agentID, verified)
}

func (s *txStore) DeactivateAgent(ctx context.Context, agentID string) (*model.Agent, error) {
	return queryDeactivateAgent(ctx, s.tx, agentID)
}

func (s *txStore) CreateSession(ctx context.Context, session *model.Session) error {
	return queryCreateSession(ctx, s.tx, session)
}

func (s *txStore) GetSession(ctx context.Context, tokenHash string) (*model.Session, error) {
	return queryGetSession(ctx, s.tx, tokenHash)
}

func (s *txStore) CreateTask(ctx context.Context, task *model.Task) error {
	return queryCreateTask(ctx, s.tx, task)
}

func (s *txStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	return queryGetTask(ctx, s.tx, id)
}

func (s *txStore) ListOpenTasks(ctx context.Context, filter model.TaskFilter) ([]*model.Task, error) {
	return queryListOpenTasks(ctx, s.tx, filter)
}

func (s *txStore) ClaimTask(ctx context.Context, taskID, agentID string) (*model.Task, error) {
	return queryClaimTask(ctx, s.tx, taskID, agentID)
}

func (s *txStore) CompleteTask(ctx context.Context, taskID, agentID string, result *model.TaskResult) (*model.Task, error) {
	return queryCompleteTask(ctx, s.tx, taskID, agentID, result)
}

func (s *txStore) CreateClaim(ctx context.Context, claim *model.Claim) error {
	return queryCreateClaim(ctx, s.tx, claim)
}

func (s *txStore) CreateEdge(ctx context.Context, edge *model.Edge) error {
	return queryCreateEdge(ctx, s.tx, edge)
}

func (s *txStore) RecordEvent(ctx context.Context, event *model.Event) error {
	return queryRecordEvent(ctx, s.tx, event)
}

func (s *txStore) MarkEventProcessed(ctx context.Context, id int64, at time.Time) error {
	return queryMarkEventProcessed(ctx, s.tx, id, at)
}

func (s *txStore) MarkEventFailed(ctx context.Context, id int64, message string) error {
	return queryMarkEventFailed(ctx, s.tx, id, message)
}

func (s *txStore) ListEventsAfter(ctx context.Context, afterID int64, limit int) ([]*model.Event, error) {
	return queryListEventsAfter(ctx, s.tx, afterID, limit)
}

func (s *txStore) GetExportCursor(ctx context.Context, name string) (int64, error) {
	return queryGetExportCursor(ctx, s.tx, name)
}

func (s *txStore) SetExportCursor(ctx context.Context, name string, eventID int64) error {
	return querySetExportCursor(ctx, s.tx, name, eventID)
}

func (s *txStore) IncrementRateLimit(ctx context.Context, agentID, endpoint string, limit int, window time.Duration, now time.Time) (*model.RateLimitWindow, bool, error) {
	return queryIncrementRateLimit(ctx, s.tx, agentID, endpoint, limit, window, now)
}

// Ping is a no-op inside a transaction; the open transaction proves connectivity.
func (s *txStore) Ping(context.Context) error {
	return nil
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}
