package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/alfredjeanlab/coherence/internal/model"
)

type memoryKey struct {
	agentID  string
	endpoint string
}

// MemoryStore keeps windows in process memory. Quotas are per instance.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[memoryKey]*model.RateLimitWindow
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[memoryKey]*model.RateLimitWindow)}
}

func (s *MemoryStore) IncrementRateLimit(_ context.Context, agentID, endpoint string, limit int, window time.Duration, now time.Time) (*model.RateLimitWindow, bool, error) {
	key := memoryKey{agentID, endpoint}

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	switch {
	case !ok || !w.WindowStart.After(now.Add(-window)):
		w = &model.RateLimitWindow{AgentID: agentID, Endpoint: endpoint, WindowStart: now, RequestCount: 1}
		s.windows[key] = w
	case w.RequestCount < limit:
		w.RequestCount++
	default:
		clone := *w
		return &clone, false, nil
	}
	clone := *w
	return &clone, true, nil
}

// Cleanup drops windows that started at or before now-window.
func (s *MemoryStore) Cleanup(now time.Time, window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, w := range s.windows {
		if !w.WindowStart.After(now.Add(-window)) {
			delete(s.windows, key)
			removed++
		}
	}
	return removed
}
