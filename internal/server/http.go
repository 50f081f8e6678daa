package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/alfredjeanlab/coherence/internal/model"
)

// actionRequest is what a mutating handler sees after the body has been
// read, the caller identified and the rate limit applied.
type actionRequest struct {
	*identity
	body []byte
}

// requireAgent fails for anonymous callers.
func (a *actionRequest) requireAgent() (*model.Agent, error) {
	if a.agent == nil {
		return nil, authenticationError("authentication required")
	}
	return a.agent, nil
}

// decode parses the JSON body into v.
func (a *actionRequest) decode(v any) error {
	if len(a.body) == 0 {
		return validationError("request body required")
	}
	if err := json.Unmarshal(a.body, v); err != nil {
		return validationError("invalid JSON body")
	}
	return nil
}

// actionFunc implements one POST action. It returns the success status and
// response data.
type actionFunc func(ctx context.Context, req *actionRequest) (int, any, error)

// NewHTTPHandler returns an http.Handler with all routes registered.
func (g *Gateway) NewHTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/register", g.action("register", g.register))
	mux.HandleFunc("POST /v1/claim-task", g.action("claim-task", g.claimTask))
	mux.HandleFunc("POST /v1/submit-result", g.action("submit-result", g.submitResult))
	mux.HandleFunc("POST /v1/create-claim", g.action("create-claim", g.createClaim))
	mux.HandleFunc("POST /v1/create-edge", g.action("create-edge", g.createEdge))
	mux.HandleFunc("POST /v1/tasks", g.action("create-task", g.createTask))
	mux.HandleFunc("POST /v1/{action}", g.handleUnknownAction)
	mux.HandleFunc("GET /v1/tasks", g.handleListTasks)
	mux.HandleFunc("GET /v1/tasks/{id}", g.handleGetTask)
	mux.HandleFunc("GET /v1/agent", g.handleGetAgent)
	mux.HandleFunc("GET /v1/events", g.handleEventStream)
	mux.HandleFunc("GET /v1/health", g.handleHealth)
	mux.Handle("/v1/admin/", g.adminHandler())
	mux.HandleFunc("/", handleMethodNotAllowed)
	return requestLogger(g.logger, recoverer(mux))
}

// action wraps an actionFunc with body reading, identity resolution and the
// per-agent rate limit for endpoint.
func (g *Gateway) action(endpoint string, fn actionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.maxBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, r, validationError("request body too large"))
			} else {
				writeError(w, r, validationError("failed to read request body"))
			}
			return
		}

		ctx := r.Context()
		id, err := g.resolveIdentity(ctx, r, body)
		if err != nil {
			writeError(w, r, err)
			return
		}

		if id.agent != nil {
			infoFrom(r).AgentID = id.agent.ID
			res, err := g.limiter.Check(ctx, id.agent.ID, endpoint, id.agent.Capabilities.MaxActionsPerHour)
			if err != nil {
				writeError(w, r, storageError("check rate limit", err))
				return
			}
			res.SetHeaders(w.Header())
			if !res.Allowed {
				writeError(w, r, rateLimitError("rate limit exceeded"))
				return
			}
		}

		status, data, err := fn(ctx, &actionRequest{identity: id, body: body})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, status, data)
	}
}

// handleUnknownAction handles POST /v1/{action} for unrouted actions.
func (g *Gateway) handleUnknownAction(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, validationError("unknown action"))
}

func handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, &apiError{kind: kindMethod, msg: "method not allowed"})
}

// handleHealth handles GET /v1/health.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if err := g.store.Ping(r.Context()); err != nil {
		g.logger.Warn("health check: store unreachable", "error", err)
		status = "degraded"
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":      status,
		"subscribers": g.hub.len(),
	})
}

// decodeRequest reads a required JSON body into v.
func decodeRequest(r *http.Request, limit int64, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return validationError("failed to read request body")
	}
	if int64(len(body)) > limit {
		return validationError("request body too large")
	}
	return (&actionRequest{body: body}).decode(v)
}

// decodeOptional is decodeRequest for bodies that may be empty.
func decodeOptional(r *http.Request, limit int64, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return validationError("failed to read request body")
	}
	if int64(len(body)) > limit {
		return validationError("request body too large")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	return (&actionRequest{body: body}).decode(v)
}
