package server

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/coherence/internal/model"
	"github.com/alfredjeanlab/coherence/internal/ratelimit"
	"github.com/alfredjeanlab/coherence/internal/store"
)

// mockStore is an in-memory store.Store. Every method holds mu, so the
// conditional task updates are as atomic as their SQL counterparts.
type mockStore struct {
	mu        sync.Mutex
	agents    map[string]*model.Agent
	sessions  map[string]*model.Session
	tasks     map[string]*model.Task
	claims    map[string]*model.Claim
	edges     map[string]*model.Edge
	events    []*model.Event
	processed map[int64]time.Time
	failed    map[int64]string
	cursors   map[string]int64
	quotas    *ratelimit.MemoryStore

	pingErr      error
	rateLimitErr error
}

var _ store.Store = (*mockStore)(nil)

func newMockStore() *mockStore {
	return &mockStore{
		agents:    make(map[string]*model.Agent),
		sessions:  make(map[string]*model.Session),
		tasks:     make(map[string]*model.Task),
		claims:    make(map[string]*model.Claim),
		edges:     make(map[string]*model.Edge),
		processed: make(map[int64]time.Time),
		failed:    make(map[int64]string),
		cursors:   make(map[string]int64),
		quotas:    ratelimit.NewMemoryStore(),
	}
}

func cloneAgent(a *model.Agent) *model.Agent {
	c := *a
	return &c
}

func cloneTask(t *model.Task) *model.Task {
	c := *t
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	return &c
}

func (m *mockStore) CreateAgent(_ context.Context, a *model.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[a.ID]; ok {
		return store.ErrConflict
	}
	m.agents[a.ID] = cloneAgent(a)
	return nil
}

func (m *mockStore) GetAgent(_ context.Context, id string) (*model.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return cloneAgent(a), nil
}

func (m *mockStore) GetAgentByPubkey(_ context.Context, pubkey string) (*model.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.agents {
		if a.Pubkey != "" && a.Pubkey == pubkey {
			return cloneAgent(a), nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockStore) RegisterAgentKey(_ context.Context, agentID, pubkey, nodeURL string) (*model.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[agentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	for _, other := range m.agents {
		if other.ID != agentID && other.Pubkey == pubkey {
			return nil, store.ErrConflict
		}
	}
	a.Pubkey = pubkey
	if nodeURL != "" {
		a.NodeURL = nodeURL
	}
	return cloneAgent(a), nil
}

func (m *mockStore) SetAgentVerified(_ context.Context, agentID string, verified bool) (*model.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[agentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	a.IsVerified = verified
	return cloneAgent(a), nil
}

func (m *mockStore) DeactivateAgent(_ context.Context, agentID string) (*model.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[agentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	a.Active = false
	return cloneAgent(a), nil
}

func (m *mockStore) CreateSession(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[s.AgentID]; !ok {
		return store.ErrReference
	}
	c := *s
	m.sessions[s.TokenHash] = &c
	return nil
}

func (m *mockStore) GetSession(_ context.Context, tokenHash string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tokenHash]
	if !ok {
		return nil, sql.ErrNoRows
	}
	c := *s
	return &c, nil
}

func (m *mockStore) CreateTask(_ context.Context, t *model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.TargetClaimID != "" {
		if _, ok := m.claims[t.TargetClaimID]; !ok {
			return store.ErrReference
		}
	}
	m.tasks[t.ID] = cloneTask(t)
	return nil
}

func (m *mockStore) GetTask(_ context.Context, id string) (*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return cloneTask(t), nil
}

func (m *mockStore) ListOpenTasks(_ context.Context, filter model.TaskFilter) ([]*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	filter = filter.Normalize()
	var out []*model.Task
	for _, t := range m.tasks {
		if t.Status != model.TaskOpen {
			continue
		}
		if filter.Type != "" && t.Type != filter.Type {
			continue
		}
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *mockStore) ClaimTask(_ context.Context, taskID, agentID string) (*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok || t.Status != model.TaskOpen {
		return nil, sql.ErrNoRows
	}
	t.Status = model.TaskClaimed
	t.AssignedAgentID = agentID
	return cloneTask(t), nil
}

func (m *mockStore) CompleteTask(_ context.Context, taskID, agentID string, r *model.TaskResult) (*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok || t.AssignedAgentID != agentID ||
		(t.Status != model.TaskClaimed && t.Status != model.TaskInProgress) {
		return nil, sql.ErrNoRows
	}
	t.Status = model.TaskFailed
	if r.Success {
		t.Status = model.TaskDone
	}
	res := *r
	t.Result = &res
	return cloneTask(t), nil
}

func (m *mockStore) CreateClaim(_ context.Context, c *model.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cc := *c
	m.claims[c.ID] = &cc
	return nil
}

func (m *mockStore) CreateEdge(_ context.Context, e *model.Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, fromOK := m.claims[e.FromClaimID]
	_, toOK := m.claims[e.ToClaimID]
	if !fromOK || !toOK {
		return store.ErrReference
	}
	ec := *e
	m.edges[e.ID] = &ec
	return nil
}

func (m *mockStore) RecordEvent(_ context.Context, e *model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.events) + 1)
	ec := *e
	m.events = append(m.events, &ec)
	return nil
}

func (m *mockStore) MarkEventProcessed(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[id] = at
	return nil
}

func (m *mockStore) MarkEventFailed(_ context.Context, id int64, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 1 || id > int64(len(m.events)) {
		return sql.ErrNoRows
	}
	m.failed[id] = message
	return nil
}

func (m *mockStore) ListEventsAfter(_ context.Context, afterID int64, limit int) ([]*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Event
	for _, e := range m.events {
		if e.ID > afterID && len(out) < limit {
			ec := *e
			out = append(out, &ec)
		}
	}
	return out, nil
}

func (m *mockStore) GetExportCursor(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[name], nil
}

func (m *mockStore) SetExportCursor(_ context.Context, name string, eventID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[name] = eventID
	return nil
}

func (m *mockStore) IncrementRateLimit(ctx context.Context, agentID, endpoint string, limit int, window time.Duration, now time.Time) (*model.RateLimitWindow, bool, error) {
	m.mu.Lock()
	err := m.rateLimitErr
	m.mu.Unlock()
	if err != nil {
		return nil, false, err
	}
	return m.quotas.IncrementRateLimit(ctx, agentID, endpoint, limit, window, now)
}

func (m *mockStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}

func (m *mockStore) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(m)
}

func (m *mockStore) Close() error { return nil }

// eventsOfType returns recorded events with the given type.
func (m *mockStore) eventsOfType(typ string) []*model.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Event
	for _, e := range m.events {
		if e.Type == typ {
			ec := *e
			out = append(out, &ec)
		}
	}
	return out
}

func (m *mockStore) isProcessed(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.processed[id]
	return ok
}

func (m *mockStore) failure(id int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failed[id]
}

// fail makes Ping and IncrementRateLimit return err.
func (m *mockStore) fail(ping, rateLimit error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = ping
	m.rateLimitErr = rateLimit
}

var errStoreDown = errors.New("store down")
