// Package replay remembers recently accepted request signatures so a
// captured signed request cannot be resubmitted inside its timestamp window.
package replay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// Store records seen keys for a bounded time.
type Store interface {
	// Remember records key until ttl elapses. fresh is false when the key
	// was already recorded and has not yet expired.
	Remember(ctx context.Context, key string, ttl time.Duration) (fresh bool, err error)
}

// Key derives the store key for a hex-encoded signature. Hex case is
// normalised so the same signature cannot be replayed in another case.
func Key(signatureHex string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(signatureHex)))
	return hex.EncodeToString(sum[:])
}

// Disabled accepts every key. It is used when replay protection is turned off.
type Disabled struct{}

func (Disabled) Remember(context.Context, string, time.Duration) (bool, error) {
	return true, nil
}

// Memory is a process-local Store. Entries are dropped by Cleanup once
// their ttl has passed.
type Memory struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *Memory) Remember(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.entries[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.entries[key] = now.Add(ttl)
	return true, nil
}

// Cleanup removes expired entries and returns how many were removed.
func (m *Memory) Cleanup(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, exp := range m.entries {
		if !now.Before(exp) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Run calls Cleanup every interval until ctx is cancelled.
func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Cleanup(m.now())
		}
	}
}
