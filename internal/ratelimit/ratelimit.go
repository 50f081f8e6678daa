// Package ratelimit enforces per-agent, per-endpoint quotas over fixed
// one-hour windows.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alfredjeanlab/coherence/internal/model"
)

// DefaultWindow is the length of a quota window.
const DefaultWindow = time.Hour

// ErrUnavailable is returned by a fail-closed Limiter when its store fails.
var ErrUnavailable = errors.New("rate limit store unavailable")

// Store performs the atomic increment-and-compare for one agent and endpoint.
//
// When no window exists, or the stored one started at or before
// now-window, a new window starting at now is opened with a count of 1.
// Otherwise the count is incremented only if it is below limit. allowed
// reports whether an increment happened; the returned window is the stored
// state after the call.
type Store interface {
	IncrementRateLimit(ctx context.Context, agentID, endpoint string, limit int, window time.Duration, now time.Time) (*model.RateLimitWindow, bool, error)
}

// Result is the outcome of a quota check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	// Degraded is set when the store failed and the request was let through.
	Degraded bool
}

// Limiter checks quotas against a Store.
type Limiter struct {
	store        Store
	window       time.Duration
	defaultLimit int
	failOpen     bool
	logger       *slog.Logger
	now          func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithWindow overrides DefaultWindow.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) { l.window = d }
}

// WithDefaultLimit sets the quota used when a caller passes no limit.
func WithDefaultLimit(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.defaultLimit = n
		}
	}
}

// WithFailOpen sets whether requests are allowed when the store fails.
func WithFailOpen(failOpen bool) Option {
	return func(l *Limiter) { l.failOpen = failOpen }
}

// WithLogger sets the logger used for degraded-mode warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New returns a fail-open Limiter over store with hourly windows.
func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:        store,
		window:       DefaultWindow,
		defaultLimit: model.DefaultMaxActionsPerHour,
		failOpen:     true,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FailOpen reports the configured failure policy.
func (l *Limiter) FailOpen() bool { return l.failOpen }

// Check counts one request by agentID against endpoint. A non-positive limit
// uses the default limit.
func (l *Limiter) Check(ctx context.Context, agentID, endpoint string, limit int) (Result, error) {
	if limit <= 0 {
		limit = l.defaultLimit
	}
	now := l.now()

	w, allowed, err := l.store.IncrementRateLimit(ctx, agentID, endpoint, limit, l.window, now)
	if err != nil {
		if !l.failOpen {
			return Result{Limit: limit}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		l.logger.Warn("rate limit store unavailable, allowing request",
			"agent_id", agentID, "endpoint", endpoint, "error", err)
		return Result{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit,
			ResetAt:   now.Add(l.window),
			Degraded:  true,
		}, nil
	}

	res := Result{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: max(limit-w.RequestCount, 0),
		ResetAt:   w.WindowStart.Add(l.window),
	}
	if !allowed {
		res.RetryAfter = max(res.ResetAt.Sub(now), time.Second)
	}
	return res, nil
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (r Result) RetryAfterSeconds() int {
	secs := int(r.RetryAfter / time.Second)
	if r.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}

// SetHeaders writes the X-RateLimit-* headers, plus Retry-After on denial.
func (r Result) SetHeaders(h http.Header) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(r.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(r.Remaining))
	h.Set("X-RateLimit-Reset", r.ResetAt.UTC().Format(time.RFC3339))
	if !r.Allowed {
		h.Set("Retry-After", strconv.Itoa(r.RetryAfterSeconds()))
	}
}
