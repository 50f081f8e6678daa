package server

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/alfredjeanlab/coherence/internal/events"
	"github.com/alfredjeanlab/coherence/internal/idgen"
	"github.com/alfredjeanlab/coherence/internal/model"
	"github.com/alfredjeanlab/coherence/internal/sigauth"
	"github.com/alfredjeanlab/coherence/internal/store"
)

// agentView is the public profile of an agent.
type agentView struct {
	AgentID      string             `json:"agent_id"`
	DisplayName  string             `json:"display_name"`
	Pubkey       string             `json:"pubkey,omitempty"`
	NodeURL      string             `json:"node_url,omitempty"`
	StakeTier    model.StakeTier    `json:"stake_tier"`
	IsVerified   bool               `json:"is_verified"`
	Active       bool               `json:"active"`
	Domains      []string           `json:"domains"`
	Reputation   model.Reputation   `json:"reputation"`
	Capabilities model.Capabilities `json:"capabilities"`
}

func newAgentView(a *model.Agent) agentView {
	domains := a.Domains
	if domains == nil {
		domains = []string{}
	}
	return agentView{
		AgentID:      a.ID,
		DisplayName:  a.DisplayName,
		Pubkey:       a.Pubkey,
		NodeURL:      a.NodeURL,
		StakeTier:    a.StakeTier,
		IsVerified:   a.IsVerified,
		Active:       a.Active,
		Domains:      domains,
		Reputation:   a.Reputation,
		Capabilities: a.Capabilities,
	}
}

type registerInput struct {
	Pubkey  string `json:"pubkey"`
	NodeURL string `json:"node_url"`
}

type registerOutput struct {
	Message string `json:"message"`
	AgentID string `json:"agent_id"`
	Pubkey  string `json:"pubkey"`
}

// register handles POST /v1/register, binding a signing key to the agent
// behind a session. A key cannot be bound by a signed request: the point is
// to introduce the key.
func (g *Gateway) register(ctx context.Context, req *actionRequest) (int, any, error) {
	if req.mode != modeSession {
		return 0, nil, authenticationError("session authentication required for registration")
	}
	var in registerInput
	if err := req.decode(&in); err != nil {
		return 0, nil, err
	}
	if in.Pubkey == "" {
		return 0, nil, validationError("pubkey is required")
	}
	if !sigauth.ValidPubkey(in.Pubkey) {
		return 0, nil, validationError("pubkey must be 64 hex characters")
	}
	pubkey := strings.ToLower(in.Pubkey)

	existing, err := g.store.GetAgentByPubkey(ctx, pubkey)
	switch {
	case err == nil && existing.ID != req.agent.ID:
		return 0, nil, conflictError("pubkey already registered")
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return 0, nil, storageError("look up pubkey", err)
	}

	agent, err := g.store.RegisterAgentKey(ctx, req.agent.ID, pubkey, in.NodeURL)
	if errors.Is(err, store.ErrConflict) {
		return 0, nil, conflictError("pubkey already registered")
	}
	if err != nil {
		return 0, nil, storageError("register key", err)
	}

	g.emit(ctx, emitted{
		eventType: model.EventAgentRegistered,
		agentID:   agent.ID,
		payload:   events.AgentRegistered{Pubkey: pubkey, NodeURL: in.NodeURL},
	})
	return http.StatusOK, registerOutput{Message: "signing key registered", AgentID: agent.ID, Pubkey: pubkey}, nil
}

// handleGetAgent handles GET /v1/agent?pubkey=.
func (g *Gateway) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	pubkey := r.URL.Query().Get("pubkey")
	if pubkey == "" {
		writeError(w, r, validationError("pubkey query parameter required"))
		return
	}
	if !sigauth.ValidPubkey(pubkey) {
		writeError(w, r, validationError("pubkey must be 64 hex characters"))
		return
	}
	agent, err := g.store.GetAgentByPubkey(r.Context(), strings.ToLower(pubkey))
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, r, notFoundError("agent not found"))
		return
	}
	if err != nil {
		writeError(w, r, storageError("get agent", err))
		return
	}
	infoFrom(r).AgentID = agent.ID
	writeJSON(w, r, http.StatusOK, newAgentView(agent))
}

// --- Admin ---

func (g *Gateway) adminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/admin/agents", g.handleAdminCreateAgent)
	mux.HandleFunc("POST /v1/admin/agents/{id}/sessions", g.handleAdminIssueSession)
	mux.HandleFunc("POST /v1/admin/agents/{id}/verify", g.handleAdminVerify)
	mux.HandleFunc("POST /v1/admin/agents/{id}/deactivate", g.handleAdminDeactivate)
	mux.HandleFunc("/v1/admin/", handleMethodNotAllowed)
	return AuthMiddleware(g.adminToken, mux)
}

type createAgentInput struct {
	DisplayName       string          `json:"display_name"`
	UserID            string          `json:"user_id"`
	StakeTier         model.StakeTier `json:"stake_tier"`
	MaxActionsPerHour int             `json:"max_actions_per_hour"`
	Domains           []string        `json:"domains"`
	Verified          bool            `json:"verified"`
	SessionTTL        string          `json:"session_ttl"`
}

type sessionOutput struct {
	AgentID   string     `json:"agent_id"`
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type createAgentOutput struct {
	Agent   agentView     `json:"agent"`
	Session sessionOutput `json:"session"`
}

// handleAdminCreateAgent handles POST /v1/admin/agents. The agent and its
// first session are written together; the token is returned only here.
func (g *Gateway) handleAdminCreateAgent(w http.ResponseWriter, r *http.Request) {
	var in createAgentInput
	if err := decodeRequest(r, g.maxBody, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(in.DisplayName) == "" {
		writeError(w, r, validationError("display_name is required"))
		return
	}
	if in.StakeTier == "" {
		in.StakeTier = model.StakeNone
	}
	if !in.StakeTier.IsValid() {
		writeError(w, r, validationError("invalid stake_tier"))
		return
	}
	ttl, err := parseTTL(in.SessionTTL)
	if err != nil {
		writeError(w, r, err)
		return
	}

	id, err := idgen.Agent()
	if err != nil {
		writeError(w, r, storageError("generate id", err))
		return
	}
	now := g.now().UTC()
	caps := model.DefaultCapabilities()
	if in.MaxActionsPerHour > 0 {
		caps.MaxActionsPerHour = in.MaxActionsPerHour
	}
	agent := &model.Agent{
		ID:           id,
		DisplayName:  in.DisplayName,
		UserID:       in.UserID,
		StakeTier:    in.StakeTier,
		IsVerified:   in.Verified,
		Active:       true,
		Capabilities: caps,
		Domains:      in.Domains,
		Reputation:   model.DefaultReputation(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var out sessionOutput
	err = g.store.RunInTransaction(r.Context(), func(tx store.Store) error {
		if err := tx.CreateAgent(r.Context(), agent); err != nil {
			return err
		}
		out, err = issueSession(r.Context(), tx, agent.ID, now, ttl)
		return err
	})
	if err != nil {
		writeError(w, r, storageError("create agent", err))
		return
	}

	g.emit(r.Context(), emitted{
		eventType: model.EventAgentCreated,
		agentID:   agent.ID,
		payload:   events.AgentCreated{DisplayName: agent.DisplayName},
	})
	writeJSON(w, r, http.StatusCreated, createAgentOutput{Agent: newAgentView(agent), Session: out})
}

type issueSessionInput struct {
	TTL string `json:"ttl"`
}

// handleAdminIssueSession handles POST /v1/admin/agents/{id}/sessions.
func (g *Gateway) handleAdminIssueSession(w http.ResponseWriter, r *http.Request) {
	var in issueSessionInput
	if err := decodeOptional(r, g.maxBody, &in); err != nil {
		writeError(w, r, err)
		return
	}
	ttl, err := parseTTL(in.TTL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	agent, err := g.store.GetAgent(r.Context(), r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, r, notFoundError("agent not found"))
		return
	}
	if err != nil {
		writeError(w, r, storageError("get agent", err))
		return
	}
	out, err := issueSession(r.Context(), g.store, agent.ID, g.now().UTC(), ttl)
	if err != nil {
		writeError(w, r, storageError("issue session", err))
		return
	}
	writeJSON(w, r, http.StatusCreated, out)
}

type verifyInput struct {
	Verified *bool `json:"verified"`
}

// handleAdminVerify handles POST /v1/admin/agents/{id}/verify.
func (g *Gateway) handleAdminVerify(w http.ResponseWriter, r *http.Request) {
	var in verifyInput
	if err := decodeOptional(r, g.maxBody, &in); err != nil {
		writeError(w, r, err)
		return
	}
	verified := in.Verified == nil || *in.Verified

	agent, err := g.store.SetAgentVerified(r.Context(), r.PathValue("id"), verified)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, r, notFoundError("agent not found"))
		return
	}
	if err != nil {
		writeError(w, r, storageError("verify agent", err))
		return
	}
	g.emit(r.Context(), emitted{
		eventType: model.EventAgentVerified,
		agentID:   agent.ID,
		payload:   events.AgentVerified{Verified: verified},
	})
	writeJSON(w, r, http.StatusOK, newAgentView(agent))
}

type deactivateInput struct {
	Reason string `json:"reason"`
}

// handleAdminDeactivate handles POST /v1/admin/agents/{id}/deactivate.
// Agents are never deleted.
func (g *Gateway) handleAdminDeactivate(w http.ResponseWriter, r *http.Request) {
	var in deactivateInput
	if err := decodeOptional(r, g.maxBody, &in); err != nil {
		writeError(w, r, err)
		return
	}
	agent, err := g.store.DeactivateAgent(r.Context(), r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, r, notFoundError("agent not found"))
		return
	}
	if err != nil {
		writeError(w, r, storageError("deactivate agent", err))
		return
	}
	g.emit(r.Context(), emitted{
		eventType: model.EventAgentDeactivated,
		agentID:   agent.ID,
		payload:   events.AgentDeactivated{Reason: in.Reason},
	})
	writeJSON(w, r, http.StatusOK, newAgentView(agent))
}

// issueSession stores a new session for agentID and returns its token.
// A zero ttl never expires.
func issueSession(ctx context.Context, s store.Store, agentID string, now time.Time, ttl time.Duration) (sessionOutput, error) {
	token, err := newSessionToken()
	if err != nil {
		return sessionOutput{}, err
	}
	sess := &model.Session{TokenHash: hashToken(token), AgentID: agentID, CreatedAt: now}
	out := sessionOutput{AgentID: agentID, Token: token}
	if ttl > 0 {
		sess.ExpiresAt = now.Add(ttl)
		out.ExpiresAt = &sess.ExpiresAt
	}
	if err := s.CreateSession(ctx, sess); err != nil {
		return sessionOutput{}, err
	}
	return out, nil
}

func parseTTL(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, validationError("invalid ttl " + s)
	}
	return d, nil
}
