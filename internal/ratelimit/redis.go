package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alfredjeanlab/coherence/internal/model"
)

// DefaultRedisPrefix namespaces quota keys.
const DefaultRedisPrefix = "coherence:ratelimit:"

// incrementScript opens or increments a window held in a hash.
// KEYS[1] window key; ARGV limit, window ms, now ms.
// Returns {window_start_ms, count, allowed}.
var incrementScript = redis.NewScript(`
local start = redis.call('HGET', KEYS[1], 'start')
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
if (not start) or (now - tonumber(start) >= window) then
  redis.call('HSET', KEYS[1], 'start', ARGV[3], 'count', 1)
  redis.call('PEXPIRE', KEYS[1], window)
  return {now, 1, 1}
end
if count < limit then
  count = redis.call('HINCRBY', KEYS[1], 'count', 1)
  return {tonumber(start), count, 1}
end
return {tonumber(start), count, 0}
`)

// RedisStore shares quotas across gateway instances through Redis. The
// increment runs as a single server-side script.
type RedisStore struct {
	client redis.Scripter
	prefix string
}

// NewRedisStore returns a RedisStore. An empty prefix uses DefaultRedisPrefix.
func NewRedisStore(client redis.Scripter, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) IncrementRateLimit(ctx context.Context, agentID, endpoint string, limit int, window time.Duration, now time.Time) (*model.RateLimitWindow, bool, error) {
	key := s.prefix + agentID + ":" + endpoint
	vals, err := incrementScript.Run(ctx, s.client, []string{key}, limit, window.Milliseconds(), now.UnixMilli()).Int64Slice()
	if err != nil {
		return nil, false, fmt.Errorf("rate limit script: %w", err)
	}
	if len(vals) != 3 {
		return nil, false, fmt.Errorf("rate limit script: unexpected reply length %d", len(vals))
	}
	return &model.RateLimitWindow{
		AgentID:      agentID,
		Endpoint:     endpoint,
		WindowStart:  time.UnixMilli(vals[0]),
		RequestCount: int(vals[1]),
	}, vals[2] == 1, nil
}
