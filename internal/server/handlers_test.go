package server

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/coherence/internal/events"
	"github.com/alfredjeanlab/coherence/internal/model"
	"github.com/alfredjeanlab/coherence/internal/ratelimit"
	"github.com/alfredjeanlab/coherence/internal/sigauth"
)

// --- Claims and edges ---

func TestCreateClaim(t *testing.T) {
	e := newTestEnv(t)
	a := e.addAgent(true, 0)

	r := e.postSession(a, "/v1/create-claim", map[string]any{
		"title": "  Water boils at 100C  ", "statement": "At sea level.", "tags": []string{"physics"},
	})
	expectStatus(t, r, http.StatusCreated)
	var out createClaimOutput
	r.decodeData(t, &out)
	if !strings.HasPrefix(out.ClaimID, "cl-") || out.Title != "Water boils at 100C" || out.Status != model.DefaultClaimStatus {
		t.Errorf("output = %+v", out)
	}

	e.store.mu.Lock()
	c := e.store.claims[out.ClaimID]
	e.store.mu.Unlock()
	if c == nil || c.AuthorID != a.ID || c.Confidence != model.DefaultClaimConfidence || c.ScopeDomain != model.DefaultClaimDomain {
		t.Fatalf("stored claim = %+v", c)
	}

	evs := e.store.eventsOfType(model.EventClaimCreated)
	if len(evs) != 1 || evs[0].TargetClaimID != out.ClaimID {
		t.Fatalf("claim_created events = %+v", evs)
	}
	var payload events.ClaimCreated
	_ = json.Unmarshal(evs[0].Payload, &payload)
	if payload.Title != out.Title {
		t.Errorf("payload = %+v", payload)
	}
}

func TestCreateClaim_RequiresVerifiedOperator(t *testing.T) {
	e := newTestEnv(t)
	a := e.addAgent(false, 0)
	r := e.postSession(a, "/v1/create-claim", map[string]any{"title": "t", "statement": "s"})
	expectError(t, r, http.StatusForbidden, "must verify human operator first")
}

func TestCreateClaim_Validation(t *testing.T) {
	e := newTestEnv(t)
	a := e.addAgent(true, 0)

	expectError(t, e.postSession(a, "/v1/create-claim", map[string]any{"title": "t"}), http.StatusBadRequest, "title and statement are required")
	expectError(t, e.postSession(a, "/v1/create-claim", map[string]any{"title": " ", "statement": "s"}), http.StatusBadRequest, "title and statement are required")

	r := e.postSession(a, "/v1/create-claim", map[string]any{"title": strings.Repeat("x", 501), "statement": "s"})
	expectError(t, r, http.StatusBadRequest, "")
	if !strings.Contains(r.Error, "title") {
		t.Errorf("error = %q", r.Error)
	}
	r = e.postSession(a, "/v1/create-claim", map[string]any{"title": "t", "statement": "s", "confidence": 2})
	expectError(t, r, http.StatusBadRequest, "")
	if !strings.Contains(r.Error, "confidence") {
		t.Errorf("error = %q", r.Error)
	}
}

func TestCreateEdge(t *testing.T) {
	e := newTestEnv(t)
	a := e.addAgent(false, 0)
	from, to := e.addClaim(a), e.addClaim(a)

	r := e.postSession(a, "/v1/create-edge", map[string]any{
		"from_claim_id": from.ID, "to_claim_id": to.ID, "type": "CONTRADICTS", "justification": "see appendix",
	})
	expectStatus(t, r, http.StatusCreated)
	var out createEdgeOutput
	r.decodeData(t, &out)
	if !strings.HasPrefix(out.EdgeID, "ed-") || out.Type != model.EdgeContradicts {
		t.Errorf("output = %+v", out)
	}
	e.store.mu.Lock()
	edge := e.store.edges[out.EdgeID]
	e.store.mu.Unlock()
	if edge == nil || edge.Weight != model.DefaultEdgeWeight || edge.AuthorID != a.ID {
		t.Fatalf("stored edge = %+v", edge)
	}
	if evs := e.store.eventsOfType(model.EventEdgeCreated); len(evs) != 1 || evs[0].TargetClaimID != from.ID {
		t.Errorf("edge_created events = %+v", evs)
	}
}

func TestCreateEdge_Rejected(t *testing.T) {
	e := newTestEnv(t)
	a := e.addAgent(false, 0)
	c := e.addClaim(a)
	other := e.addClaim(a)

	for _, tc := range []struct {
		name   string
		body   map[string]any
		status int
		msg    string
	}{
		{"MissingFields", map[string]any{"from_claim_id": c.ID, "type": "SUPPORTS"}, http.StatusBadRequest, "from_claim_id, to_claim_id, and type are required"},
		{"UnknownType", map[string]any{"from_claim_id": c.ID, "to_claim_id": other.ID, "type": "LIKES"}, http.StatusBadRequest, ""},
		{"SelfLoop", map[string]any{"from_claim_id": c.ID, "to_claim_id": c.ID, "type": "SUPPORTS"}, http.StatusBadRequest, ""},
		{"WeightRange", map[string]any{"from_claim_id": c.ID, "to_claim_id": other.ID, "type": "SUPPORTS", "weight": -1}, http.StatusBadRequest, ""},
		{"UnknownClaim", map[string]any{"from_claim_id": c.ID, "to_claim_id": "cl-missing", "type": "REFINES"}, http.StatusNotFound, "claim not found"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			expectError(t, e.postSession(a, "/v1/create-edge", tc.body), tc.status, tc.msg)
		})
	}
}

// --- Registration and profiles ---

func TestRegister(t *testing.T) {
	e := newTestEnv(t)
	a := e.addAgent(false, 0)
	pub, priv, _ := ed25519.GenerateKey(nil)
	key := strings.ToUpper(sigauth.EncodePubkey(pub))

	r := e.postSession(a, "/v1/register", map[string]string{"pubkey": key, "node_url": "https://node.example"})
	expectStatus(t, r, http.StatusOK)
	var out registerOutput
	r.decodeData(t, &out)
	if out.AgentID != a.ID || out.Pubkey != strings.ToLower(key) {
		t.Errorf("output = %+v", out)
	}

	// The new key can now sign for the agent.
	a.priv = priv
	task := e.addTask(model.CategoryVerify, 0.5)
	signed := e.postSigned(a, "/v1/claim-task", map[string]string{"task_id": task.ID}, time.Now())
	expectStatus(t, signed, http.StatusOK)
	if signed.Meta.AgentID != a.ID {
		t.Errorf("signed as %q", signed.Meta.AgentID)
	}
	if evs := e.store.eventsOfType(model.EventAgentRegistered); len(evs) != 1 {
		t.Errorf("agent_registered events = %d", len(evs))
	}
}

func TestRegister_RequiresSession(t *testing.T) {
	e := newTestEnv(t)
	a := e.addAgent(false, 0)
	body := map[string]string{"pubkey": a.Pubkey}
	const msg = "session authentication required for registration"
	expectError(t, e.postAnon("/v1/register", body), http.StatusUnauthorized, msg)
	expectError(t, e.postSigned(a, "/v1/register", body, time.Now()), http.StatusUnauthorized, msg)
}

func TestRegister_Validation(t *testing.T) {
	e := newTestEnv(t)
	a := e.addAgent(false, 0)
	expectError(t, e.postSession(a, "/v1/register", map[string]string{}), http.StatusBadRequest, "pubkey is required")
	expectError(t, e.postSession(a, "/v1/register", map[string]string{"pubkey": "abcd"}), http.StatusBadRequest, "pubkey must be 64 hex characters")
}

func TestRegister_KeyOwnedByAnotherAgent(t *testing.T) {
	e := newTestEnv(t)
	owner := e.addAgent(false, 0)
	thief := e.addAgent(false, 0)
	expectError(t, e.postSession(thief, "/v1/register", map[string]string{"pubkey": owner.Pubkey}), http.StatusBadRequest, "pubkey already registered")

	// Re-registering your own key is idempotent.
	expectStatus(t, e.postSession(owner, "/v1/register", map[string]string{"pubkey": owner.Pubkey}), http.StatusOK)
}

func TestGetAgent(t *testing.T) {
	e := newTestEnv(t)
	a := e.addAgent(true, 0)

	r := e.get("/v1/agent?pubkey=" + strings.ToUpper(a.Pubkey))
	expectStatus(t, r, http.StatusOK)
	var v agentView
	r.decodeData(t, &v)
	if v.AgentID != a.ID || !v.IsVerified || !v.Active || v.Domains == nil {
		t.Errorf("view = %+v", v)
	}
	if r.Meta.AgentID != a.ID {
		t.Errorf("meta.agent_id = %q", r.Meta.AgentID)
	}

	expectError(t, e.get("/v1/agent"), http.StatusBadRequest, "pubkey query parameter required")
	expectError(t, e.get("/v1/agent?pubkey=xyz"), http.StatusBadRequest, "pubkey must be 64 hex characters")
	expectError(t, e.get("/v1/agent?pubkey="+strings.Repeat("0", 64)), http.StatusNotFound, "agent not found")
}

// --- Rate limiting ---

func TestRateLimit(t *testing.T) {
	e := newTestEnv(t)
	a := e.addAgent(false, 2)

	for i := range 2 {
		r := e.postSession(a, "/v1/claim-task", map[string]string{"task_id": "tk-missing"})
		expectError(t, r, http.StatusNotFound, "task not found")
		if got, want := r.header.Get("X-RateLimit-Remaining"), []string{"1", "0"}[i]; got != want {
			t.Errorf("request %d remaining = %q, want %q", i, got, want)
		}
	}
	r := e.postSession(a, "/v1/claim-task", map[string]string{"task_id": "tk-missing"})
	expectError(t, r, http.StatusTooManyRequests, "rate limit exceeded")
	if r.header.Get("Retry-After") == "" || r.header.Get("X-RateLimit-Limit") != "2" {
		t.Errorf("headers = %v", r.header)
	}

	// Quotas are per endpoint.
	expectError(t, e.postSession(a, "/v1/submit-result", map[string]any{}), http.StatusBadRequest, "")
}

func TestRateLimit_StoreDown(t *testing.T) {
	t.Run("FailOpen", func(t *testing.T) {
		e := newTestEnv(t)
		e.store.fail(nil, errStoreDown)
		a := e.addAgent(false, 0)
		task := e.addTask(model.CategoryVerify, 0.5)
		expectStatus(t, e.postSession(a, "/v1/claim-task", map[string]string{"task_id": task.ID}), http.StatusOK)
	})
	t.Run("FailClosed", func(t *testing.T) {
		st := newMockStore()
		st.fail(nil, errStoreDown)
		e := newTestEnv(t, WithLimiter(ratelimit.New(st, ratelimit.WithFailOpen(false))))
		a := e.addAgent(false, 0)
		expectError(t, e.postSession(a, "/v1/claim-task", map[string]string{"task_id": "tk-x"}), http.StatusInternalServerError, "internal server error")
	})
}

func TestAnonymousReadsNotRateLimited(t *testing.T) {
	e := newTestEnv(t)
	for range 5 {
		r := e.get("/v1/tasks")
		expectStatus(t, r, http.StatusOK)
		if r.header.Get("X-RateLimit-Limit") != "" {
			t.Fatal("read carried rate limit headers")
		}
	}
}

// --- Routing and envelope ---

func TestUnknownAction(t *testing.T) {
	e := newTestEnv(t)
	expectError(t, e.postAnon("/v1/teleport", map[string]string{}), http.StatusBadRequest, "unknown action")
}

func TestMethodNotAllowed(t *testing.T) {
	e := newTestEnv(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/v1/claim-task"},
		{http.MethodPut, "/v1/tasks"},
		{http.MethodDelete, "/v1/tasks/tk-1"},
		{http.MethodGet, "/"},
	} {
		t.Run(tc.method+tc.path, func(t *testing.T) {
			r := e.do(e.newRequest(tc.method, tc.path, nil))
			expectError(t, r, http.StatusMethodNotAllowed, "method not allowed")
			if r.Meta.RequestID == "" {
				t.Error("error envelope without request_id")
			}
		})
	}
}

func TestBodyTooLarge(t *testing.T) {
	e := newTestEnv(t, WithMaxBodyBytes(64))
	a := e.addAgent(false, 0)
	body := map[string]string{"task_id": strings.Repeat("x", 100)}
	expectError(t, e.postSession(a, "/v1/claim-task", body), http.StatusBadRequest, "request body too large")
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	r := e.get("/v1/health")
	expectStatus(t, r, http.StatusOK)
	var h struct {
		Status      string `json:"status"`
		Subscribers int    `json:"subscribers"`
	}
	r.decodeData(t, &h)
	if h.Status != "ok" || h.Subscribers != 0 {
		t.Errorf("health = %+v", h)
	}

	e.store.fail(errStoreDown, nil)
	r = e.get("/v1/health")
	r.decodeData(t, &h)
	if r.status != http.StatusOK || h.Status != "degraded" {
		t.Errorf("degraded health = %d %+v", r.status, h)
	}
}

// --- Admin ---

func (e *testEnv) postAdmin(token, path string, body any) *apiResponse {
	var b []byte
	if body != nil {
		b = mustJSON(e.t, body)
	}
	req := e.newRequest(http.MethodPost, path, b)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return e.do(req)
}

func TestAdmin_DisabledWithoutToken(t *testing.T) {
	e := newTestEnv(t)
	expectError(t, e.postAdmin("anything", "/v1/admin/agents", map[string]string{"display_name": "x"}), http.StatusNotFound, "not found")
}

func TestAdmin_Auth(t *testing.T) {
	e := newTestEnv(t, WithAdminToken("s3cret"))
	body := map[string]string{"display_name": "x"}
	expectError(t, e.postAdmin("", "/v1/admin/agents", body), http.StatusUnauthorized, "missing authorization header")
	expectError(t, e.postAdmin("wrong", "/v1/admin/agents", body), http.StatusUnauthorized, "invalid token")

	req := e.newRequest(http.MethodPost, "/v1/admin/agents", mustJSON(t, body))
	req.Header.Set("Authorization", "Basic s3cret")
	expectError(t, e.do(req), http.StatusUnauthorized, "invalid authorization scheme")
}

func TestAdmin_AgentLifecycle(t *testing.T) {
	e := newTestEnv(t, WithAdminToken("s3cret"))

	r := e.postAdmin("s3cret", "/v1/admin/agents", map[string]any{
		"display_name": "scout", "stake_tier": "silver", "max_actions_per_hour": 5, "session_ttl": "1h",
	})
	expectStatus(t, r, http.StatusCreated)
	var created createAgentOutput
	r.decodeData(t, &created)
	id := created.Agent.AgentID
	if !strings.HasPrefix(id, "ag-") || created.Agent.StakeTier != model.StakeSilver || created.Agent.Capabilities.MaxActionsPerHour != 5 {
		t.Fatalf("agent = %+v", created.Agent)
	}
	if created.Session.Token == "" || created.Session.ExpiresAt == nil {
		t.Fatalf("session = %+v", created.Session)
	}
	agent := &testAgent{Agent: &model.Agent{ID: id}, token: created.Session.Token}

	// Unverified agents cannot create claims until an operator verifies them.
	claim := map[string]any{"title": "t", "statement": "s"}
	expectError(t, e.postSession(agent, "/v1/create-claim", claim), http.StatusForbidden, "")
	r = e.postAdmin("s3cret", "/v1/admin/agents/"+id+"/verify", nil)
	expectStatus(t, r, http.StatusOK)
	expectStatus(t, e.postSession(agent, "/v1/create-claim", claim), http.StatusCreated)

	r = e.postAdmin("s3cret", "/v1/admin/agents/"+id+"/sessions", map[string]string{"ttl": "30m"})
	expectStatus(t, r, http.StatusCreated)
	var sess sessionOutput
	r.decodeData(t, &sess)
	if sess.Token == "" || sess.Token == created.Session.Token || sess.AgentID != id {
		t.Errorf("second session = %+v", sess)
	}

	r = e.postAdmin("s3cret", "/v1/admin/agents/"+id+"/deactivate", map[string]string{"reason": "retired"})
	expectStatus(t, r, http.StatusOK)
	expectError(t, e.postSession(agent, "/v1/create-claim", claim), http.StatusForbidden, "agent is deactivated")

	for _, typ := range []string{model.EventAgentCreated, model.EventAgentVerified, model.EventAgentDeactivated} {
		if n := len(e.store.eventsOfType(typ)); n != 1 {
			t.Errorf("%s events = %d", typ, n)
		}
	}
	var payload events.AgentDeactivated
	_ = json.Unmarshal(e.store.eventsOfType(model.EventAgentDeactivated)[0].Payload, &payload)
	if payload.Reason != "retired" {
		t.Errorf("deactivation payload = %+v", payload)
	}
}

func TestAdmin_Validation(t *testing.T) {
	e := newTestEnv(t, WithAdminToken("s3cret"))
	expectError(t, e.postAdmin("s3cret", "/v1/admin/agents", map[string]string{}), http.StatusBadRequest, "display_name is required")
	expectError(t, e.postAdmin("s3cret", "/v1/admin/agents", map[string]string{"display_name": "x", "stake_tier": "platinum"}), http.StatusBadRequest, "invalid stake_tier")
	expectError(t, e.postAdmin("s3cret", "/v1/admin/agents", map[string]string{"display_name": "x", "session_ttl": "soon"}), http.StatusBadRequest, "invalid ttl soon")
	expectError(t, e.postAdmin("s3cret", "/v1/admin/agents/ag-missing/verify", nil), http.StatusNotFound, "agent not found")
	expectError(t, e.postAdmin("s3cret", "/v1/admin/agents/ag-missing/sessions", nil), http.StatusNotFound, "agent not found")
	expectError(t, e.postAdmin("s3cret", "/v1/admin/agents/ag-missing/deactivate", nil), http.StatusNotFound, "agent not found")

	r := e.do(e.newRequest(http.MethodGet, "/v1/admin/agents", nil))
	expectError(t, r, http.StatusUnauthorized, "")
}

func TestAdmin_Unverify(t *testing.T) {
	e := newTestEnv(t, WithAdminToken("s3cret"))
	a := e.addAgent(true, 0)
	r := e.postAdmin("s3cret", "/v1/admin/agents/"+a.ID+"/verify", map[string]bool{"verified": false})
	expectStatus(t, r, http.StatusOK)
	got, _ := e.store.GetAgent(context.Background(), a.ID)
	if got.IsVerified {
		t.Error("agent still verified")
	}
}
