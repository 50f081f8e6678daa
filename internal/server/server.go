// Package server implements the agent gateway: identity resolution, the
// action dispatcher and its handlers, and the live event stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/coherence/internal/events"
	"github.com/alfredjeanlab/coherence/internal/model"
	"github.com/alfredjeanlab/coherence/internal/ratelimit"
	"github.com/alfredjeanlab/coherence/internal/replay"
	"github.com/alfredjeanlab/coherence/internal/store"
)

// DefaultMaxBodyBytes caps POST bodies when no limit is configured.
const DefaultMaxBodyBytes = 1 << 20

// Gateway serves the agent-facing HTTP API.
type Gateway struct {
	store     store.Store
	publisher events.Publisher
	// bus is set when events fan out through the publisher. The local hub
	// is then fed by Relay rather than directly by emit.
	bus bool

	hub        *sseHub
	limiter    *ratelimit.Limiter
	replay     replay.Store
	logger     *slog.Logger
	adminToken string
	maxBody    int64
	now        func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithPublisher routes event fan-out through p. Every instance sharing the
// bus must run Relay so its own subscribers see the events.
func WithPublisher(p events.Publisher) Option {
	return func(g *Gateway) {
		g.publisher = p
		g.bus = true
	}
}

// WithLimiter replaces the default Postgres-backed rate limiter.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(g *Gateway) { g.limiter = l }
}

// WithReplayStore sets the seen-signature store.
func WithReplayStore(r replay.Store) Option {
	return func(g *Gateway) { g.replay = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithAdminToken enables /v1/admin/ behind a bearer token.
func WithAdminToken(token string) Option {
	return func(g *Gateway) { g.adminToken = token }
}

// WithMaxBodyBytes caps the size of POST bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.maxBody = n
		}
	}
}

// WithKeepalive sets the idle heartbeat interval of event streams.
func WithKeepalive(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.hub.keepalive = d
		}
	}
}

// WithClock overrides the clock used for timestamps and signature windows.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New returns a Gateway backed by s. Without options, events go straight
// to the local hub, quotas are kept in s, and replays are tracked in memory.
func New(s store.Store, opts ...Option) *Gateway {
	g := &Gateway{
		store:     s,
		publisher: &events.NoopPublisher{},
		hub:       newSSEHub(),
		logger:    slog.Default(),
		maxBody:   DefaultMaxBodyBytes,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.limiter == nil {
		g.limiter = ratelimit.New(s, ratelimit.WithLogger(g.logger))
	}
	if g.replay == nil {
		g.replay = replay.NewMemory()
	}
	g.hub.onMalformed = g.markMalformed
	return g
}

// Shutdown ends every open event stream.
func (g *Gateway) Shutdown() {
	g.hub.close()
}

// Subscribers reports the number of open event streams.
func (g *Gateway) Subscribers() int {
	return g.hub.len()
}

// emitted describes an event before it is recorded.
type emitted struct {
	eventType string
	agentID   string
	taskID    string
	claimID   string
	payload   any
}

// emit appends an event row and fans it out. It is a side effect of a
// mutation that already succeeded, so failures are logged and swallowed.
// The request context may be cancelled as soon as the response is written;
// emission detaches from it.
func (g *Gateway) emit(ctx context.Context, e emitted) {
	ctx = context.WithoutCancel(ctx)
	ev := &model.Event{
		Type:          e.eventType,
		SourceAgentID: e.agentID,
		TargetTaskID:  e.taskID,
		TargetClaimID: e.claimID,
		CreatedAt:     g.now().UTC(),
	}
	payload, err := json.Marshal(e.payload)
	if err != nil {
		ev.ErrorMessage = fmt.Sprintf("malformed payload: %v", err)
		if rerr := g.store.RecordEvent(ctx, ev); rerr != nil {
			g.logger.Warn("failed to record event", "event_type", ev.Type, "error", rerr)
		}
		g.logger.Warn("dropped event with malformed payload", "event_type", ev.Type, "error", err)
		return
	}
	ev.Payload = payload

	if err := g.store.RecordEvent(ctx, ev); err != nil {
		g.logger.Warn("failed to record event", "event_type", ev.Type, "error", err)
	}
	if err := g.fanOut(ctx, ev); err != nil {
		g.logger.Warn("failed to fan out event", "event_type", ev.Type, "event_id", ev.ID, "error", err)
		return
	}
	if ev.ID != 0 {
		if err := g.store.MarkEventProcessed(ctx, ev.ID, g.now().UTC()); err != nil {
			g.logger.Warn("failed to mark event processed", "event_id", ev.ID, "error", err)
		}
	}
}

// fanOut delivers ev to the bus, or to the local hub when there is no bus
// or publishing fails.
func (g *Gateway) fanOut(ctx context.Context, ev *model.Event) error {
	if g.bus {
		err := g.publisher.Publish(ctx, events.Topic(ev.Type), ev)
		if err == nil {
			return nil
		}
		g.logger.Warn("publish failed, delivering locally", "event_type", ev.Type, "error", err)
	}
	return g.hub.broadcast(ev)
}

// markMalformed stamps an event the hub refused to deliver.
func (g *Gateway) markMalformed(ev *model.Event, cause error) {
	if ev.ID == 0 {
		return
	}
	msg := fmt.Sprintf("malformed payload: %v", cause)
	if err := g.store.MarkEventFailed(context.Background(), ev.ID, msg); err != nil {
		g.logger.Warn("failed to mark event failed", "event_id", ev.ID, "error", err)
	}
}

// Relay feeds events from the bus into the local hub until ctx is done or
// the subscription closes.
func (g *Gateway) Relay(ctx context.Context, sub events.Subscriber) error {
	ch, cancel, err := sub.Subscribe(events.TopicAll)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", events.TopicAll, err)
	}
	defer cancel()

	g.logger.Info("relaying bus events to stream subscribers", "subject", events.TopicAll)
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := events.Decode(data)
			if err != nil {
				g.logger.Warn("ignoring undecodable bus message", "error", err)
				continue
			}
			if err := g.hub.broadcast(ev); err != nil && !errors.Is(err, errMalformedEvent) {
				g.logger.Warn("relay broadcast failed", "event_id", ev.ID, "error", err)
			}
		}
	}
}
