package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// envelope wraps every non-streaming response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Meta    meta   `json:"meta"`
}

type meta struct {
	Timestamp string `json:"timestamp"`
	RequestID string `json:"request_id"`
	AgentID   string `json:"agent_id,omitempty"`
}

// requestInfo is attached to every request context by requestLogger.
// AgentID is filled in once an identity is resolved.
type requestInfo struct {
	ID      string
	AgentID string
}

type requestInfoKey struct{}

func withRequestInfo(ctx context.Context) (context.Context, *requestInfo) {
	info := &requestInfo{ID: uuid.NewString()}
	return context.WithValue(ctx, requestInfoKey{}, info), info
}

// infoFrom returns the request info, or a fresh one for requests that did
// not pass through requestLogger (direct handler tests).
func infoFrom(r *http.Request) *requestInfo {
	if info, ok := r.Context().Value(requestInfoKey{}).(*requestInfo); ok {
		return info
	}
	return &requestInfo{ID: uuid.NewString()}
}

func newMeta(r *http.Request) meta {
	info := infoFrom(r)
	return meta{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: info.ID,
		AgentID:   info.AgentID,
	}
}

// writeJSON writes a success envelope with the given status code.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeEnvelope(w, status, envelope{Success: true, Data: data, Meta: newMeta(r)})
}

// writeError writes a failure envelope for err. Storage errors are logged
// with their cause; the client only sees a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae := toAPIError(err)
	if ae.kind == kindStorage {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", infoFrom(r).ID, "error", err)
	}
	writeEnvelope(w, ae.status(), envelope{Error: ae.message(), Meta: newMeta(r)})
}

func writeEnvelope(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
