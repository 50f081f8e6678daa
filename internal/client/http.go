package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/coherence/internal/sigauth"
)

// HTTPClient talks to the gateway's HTTP/JSON API.
type HTTPClient struct {
	baseURL    string
	session    string
	adminToken string
	key        ed25519.PrivateKey
	httpClient *http.Client
	now        func() time.Time
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithSigningKey signs mutating requests with key.
func WithSigningKey(key ed25519.PrivateKey) Option {
	return func(c *HTTPClient) { c.key = key }
}

// WithSession authenticates mutating requests with a bearer session token.
// A session takes precedence over a signing key.
func WithSession(token string) Option {
	return func(c *HTTPClient) { c.session = token }
}

// WithAdminToken sets the token used for the admin calls.
func WithAdminToken(token string) Option {
	return func(c *HTTPClient) { c.adminToken = token }
}

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.httpClient = hc }
}

// WithClock overrides the clock used for signature timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *HTTPClient) { c.now = now }
}

// NewHTTPClient creates a client targeting baseURL (e.g. "http://localhost:8080").
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Pubkey returns the hex public key of the signing key, or "".
func (c *HTTPClient) Pubkey() string {
	if c.key == nil {
		return ""
	}
	return sigauth.EncodePubkey(c.key.Public().(ed25519.PublicKey))
}

// APIError is an error envelope returned by the gateway.
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
	// RetryAfter is set on 429 responses.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// auth selects how a request identifies its caller.
type auth int

const (
	authNone auth = iota
	authAgent
	authAdmin
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Meta    Meta            `json:"meta"`
}

// --- Agent actions ---

// Register binds the client's signing key to the agent behind its session.
func (c *HTTPClient) Register(ctx context.Context, nodeURL string) (*RegisterResult, error) {
	body := map[string]string{"pubkey": c.Pubkey()}
	if nodeURL != "" {
		body["node_url"] = nodeURL
	}
	var out RegisterResult
	if _, err := c.do(ctx, http.MethodPost, "/v1/register", authAgent, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClaimTask attempts to take exclusive ownership of an open task.
func (c *HTTPClient) ClaimTask(ctx context.Context, taskID string) (*ClaimResult, error) {
	var out ClaimResult
	if _, err := c.do(ctx, http.MethodPost, "/v1/claim-task", authAgent, map[string]string{"task_id": taskID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitResult completes a task the agent holds.
func (c *HTTPClient) SubmitResult(ctx context.Context, req *SubmitResultRequest) (*SubmitResultResponse, error) {
	var out SubmitResultResponse
	if _, err := c.do(ctx, http.MethodPost, "/v1/submit-result", authAgent, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateTask opens a new task against a claim.
func (c *HTTPClient) CreateTask(ctx context.Context, req *CreateTaskRequest) (*Task, error) {
	var out Task
	if _, err := c.do(ctx, http.MethodPost, "/v1/tasks", authAgent, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateClaim adds a claim. The agent's operator must be verified.
func (c *HTTPClient) CreateClaim(ctx context.Context, req *CreateClaimRequest) (*CreateClaimResult, error) {
	var out CreateClaimResult
	if _, err := c.do(ctx, http.MethodPost, "/v1/create-claim", authAgent, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateEdge links two claims.
func (c *HTTPClient) CreateEdge(ctx context.Context, req *CreateEdgeRequest) (*CreateEdgeResult, error) {
	var out CreateEdgeResult
	if _, err := c.do(ctx, http.MethodPost, "/v1/create-edge", authAgent, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Reads ---

// ListTasks returns open tasks, highest priority first. Empty taskType and
// zero limit use the server defaults.
func (c *HTTPClient) ListTasks(ctx context.Context, taskType string, limit int) ([]*Task, error) {
	q := url.Values{}
	if taskType != "" {
		q.Set("type", taskType)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []*Task
	if _, err := c.do(ctx, http.MethodGet, path, authNone, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTask returns one task.
func (c *HTTPClient) GetTask(ctx context.Context, id string) (*Task, error) {
	var out Task
	if _, err := c.do(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(id), authNone, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAgent looks up an agent by public key.
func (c *HTTPClient) GetAgent(ctx context.Context, pubkey string) (*Agent, error) {
	var out Agent
	path := "/v1/agent?" + url.Values{"pubkey": {pubkey}}.Encode()
	if _, err := c.do(ctx, http.MethodGet, path, authNone, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health returns the gateway liveness report.
func (c *HTTPClient) Health(ctx context.Context) (*Health, error) {
	var out Health
	if _, err := c.do(ctx, http.MethodGet, "/v1/health", authNone, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Admin ---

// CreateAgent creates an agent and its first session.
func (c *HTTPClient) CreateAgent(ctx context.Context, req *CreateAgentRequest) (*CreateAgentResult, error) {
	var out CreateAgentResult
	if _, err := c.do(ctx, http.MethodPost, "/v1/admin/agents", authAdmin, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IssueSession issues another session token for an agent. An empty ttl
// never expires.
func (c *HTTPClient) IssueSession(ctx context.Context, agentID, ttl string) (*Session, error) {
	var out Session
	body := map[string]string{}
	if ttl != "" {
		body["ttl"] = ttl
	}
	if _, err := c.do(ctx, http.MethodPost, "/v1/admin/agents/"+url.PathEscape(agentID)+"/sessions", authAdmin, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyAgent sets whether an agent's human operator is verified.
func (c *HTTPClient) VerifyAgent(ctx context.Context, agentID string, verified bool) (*Agent, error) {
	var out Agent
	body := map[string]bool{"verified": verified}
	if _, err := c.do(ctx, http.MethodPost, "/v1/admin/agents/"+url.PathEscape(agentID)+"/verify", authAdmin, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeactivateAgent deactivates an agent.
func (c *HTTPClient) DeactivateAgent(ctx context.Context, agentID, reason string) (*Agent, error) {
	var out Agent
	body := map[string]string{"reason": reason}
	if _, err := c.do(ctx, http.MethodPost, "/v1/admin/agents/"+url.PathEscape(agentID)+"/deactivate", authAdmin, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do sends one request and unwraps the envelope into result.
func (c *HTTPClient) do(ctx context.Context, method, path string, a auth, body, result any) (*Meta, error) {
	var data []byte
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch a {
	case authAgent:
		switch {
		case c.session != "":
			req.Header.Set("Authorization", "Bearer "+c.session)
		case c.key != nil:
			sigauth.SignRequest(req, c.key, data, c.now())
		}
	case authAdmin:
		if c.adminToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.adminToken)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		if resp.StatusCode >= 400 {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		}
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if resp.StatusCode >= 400 || !env.Success {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: env.Error, RequestID: env.Meta.RequestID}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
		return nil, apiErr
	}

	if result != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, result); err != nil {
			return nil, fmt.Errorf("decoding response data: %w", err)
		}
	}
	return &env.Meta, nil
}
