package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/alfredjeanlab/coherence/internal/model"
)

const (
	// sseKeepaliveInterval is how often an idle stream gets a comment frame
	// so intermediaries do not time it out.
	sseKeepaliveInterval = 30 * time.Second

	// sseClientBuffer is the number of frames queued per client before
	// further events are dropped for that client.
	sseClientBuffer = 64
)

var errMalformedEvent = errors.New("event payload is not valid JSON")

// streamFrame is the data of one domain event frame.
type streamFrame struct {
	Type          string          `json:"type"`
	ID            int64           `json:"id,omitempty"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	SourceAgentID string          `json:"source_agent_id,omitempty"`
	TargetTaskID  string          `json:"target_task_id,omitempty"`
	TargetClaimID string          `json:"target_claim_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// connectedFrame is always the first frame on a stream.
type connectedFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// sseHub fans out events to connected stream clients. There is no topic
// filtering: every client gets every event.
type sseHub struct {
	mu      sync.RWMutex
	clients map[*sseClient]struct{}
	closed  bool
	done    chan struct{}

	keepalive time.Duration
	// onMalformed is called for events whose payload cannot be framed.
	onMalformed func(ev *model.Event, err error)
}

// sseClient represents a single connected stream consumer.
type sseClient struct {
	ch chan []byte
}

func newSSEHub() *sseHub {
	return &sseHub{
		clients:   make(map[*sseClient]struct{}),
		done:      make(chan struct{}),
		keepalive: sseKeepaliveInterval,
	}
}

// broadcast encodes ev once and queues it for every client. A full client
// queue drops the frame for that client only. An unencodable payload is
// dropped for everyone and reported through onMalformed.
func (h *sseHub) broadcast(ev *model.Event) error {
	frame, err := json.Marshal(streamFrame{
		Type:          "event",
		ID:            ev.ID,
		EventType:     ev.Type,
		Payload:       ev.Payload,
		SourceAgentID: ev.SourceAgentID,
		TargetTaskID:  ev.TargetTaskID,
		TargetClaimID: ev.TargetClaimID,
		CreatedAt:     ev.CreatedAt,
	})
	if err != nil {
		err = fmt.Errorf("%w: %v", errMalformedEvent, err)
		if h.onMalformed != nil {
			h.onMalformed(ev, err)
		}
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.ch <- frame:
		default:
		}
	}
	return nil
}

// subscribe registers a new client. It returns nil once the hub is closed.
func (h *sseHub) subscribe() *sseClient {
	c := &sseClient{ch: make(chan []byte, sseClientBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.clients[c] = struct{}{}
	return c
}

// unsubscribe removes a client from the hub.
func (h *sseHub) unsubscribe(c *sseClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *sseHub) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// close ends every stream. Later subscribers are refused.
func (h *sseHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.done)
	}
}

// handleEventStream handles GET /v1/events.
func (g *Gateway) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, storageError("streaming not supported", errors.New("response writer cannot flush")))
		return
	}

	client := g.hub.subscribe()
	if client == nil {
		writeError(w, r, notFoundError("event stream closed"))
		return
	}
	defer g.hub.unsubscribe(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	hello, _ := json.Marshal(connectedFrame{
		Type:      "connected",
		RequestID: infoFrom(r).ID,
		Timestamp: g.now().UTC().Format(time.RFC3339),
	})
	if writeFrame(w, hello) != nil {
		return
	}
	flusher.Flush()

	keepalive := time.NewTicker(g.hub.keepalive)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.hub.done:
			return
		case frame := <-client.ch:
			if writeFrame(w, frame) != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeFrame(w http.ResponseWriter, data []byte) error {
	_, err := fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
