package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	// ResetAfter is the time left in the current window.
	ResetAfter time.Duration
}

// RetryAfter is how long a rejected caller should wait.
func (d Decision) RetryAfter() time.Duration {
	if d.Allowed {
		return 0
	}
	return d.ResetAfter
}

type Limiter interface {
	Allow(ctx context.Context, subject string) (Decision, error)
}

const defaultKeyPrefix = "shrinkpic:ratelimit"

// RedisFixedWindow counts requests per subject in fixed windows shared by
// every API replica.
type RedisFixedWindow struct {
	client    redis.UniversalClient
	policy    Policy
	keyPrefix string
	script    *redis.Script
}

func NewRedisFixedWindow(client redis.UniversalClient, policy Policy, keyPrefix string) (*RedisFixedWindow, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = defaultKeyPrefix
	}

	return &RedisFixedWindow{
		client:    client,
		policy:    policy,
		keyPrefix: keyPrefix,
		script: redis.NewScript(`
local key = KEYS[1]
local window_ms = tonumber(ARGV[1])

local current = redis.call("INCR", key)
if current == 1 then
  redis.call("PEXPIRE", key, window_ms)
end

local ttl = redis.call("PTTL", key)
if ttl < 0 then
  redis.call("PEXPIRE", key, window_ms)
  ttl = window_ms
end

return {current, ttl}
`),
	}, nil
}

func (l *RedisFixedWindow) Allow(ctx context.Context, subject string) (Decision, error) {
	key := fmt.Sprintf("%s:%s", l.keyPrefix, normalizeSubject(subject))
	raw, err := l.script.Run(ctx, l.client, []string{key}, l.policy.Window.Milliseconds()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("run fixed window script: %w", err)
	}

	values, ok := raw.([]any)
	if !ok || len(values) != 2 {
		return Decision{}, fmt.Errorf("invalid fixed window response")
	}
	count, err := toInt64(values[0])
	if err != nil {
		return Decision{}, fmt.Errorf("parse count value: %w", err)
	}
	ttlMS, err := toInt64(values[1])
	if err != nil {
		return Decision{}, fmt.Errorf("parse ttl value: %w", err)
	}

	return l.policy.decide(count, time.Duration(ttlMS)*time.Millisecond), nil
}

// MemoryFixedWindow is the single-process limiter.
type MemoryFixedWindow struct {
	policy Policy
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]window
}

type window struct {
	count   int64
	resetAt time.Time
}

func NewMemoryFixedWindow(policy Policy) (*MemoryFixedWindow, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &MemoryFixedWindow{policy: policy, now: time.Now, windows: make(map[string]window)}, nil
}

func (l *MemoryFixedWindow) Allow(_ context.Context, subject string) (Decision, error) {
	subject = normalizeSubject(subject)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[subject]
	if !ok || !now.Before(w.resetAt) {
		w = window{resetAt: now.Add(l.policy.Window)}
		l.sweep(now)
	}
	w.count++
	l.windows[subject] = w

	return l.policy.decide(w.count, w.resetAt.Sub(now)), nil
}

// sweep drops expired windows; callers hold l.mu.
func (l *MemoryFixedWindow) sweep(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
}

func normalizeSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "anonymous"
	}
	return subject
}

func toInt64(in any) (int64, error) {
	switch v := in.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", in)
	}
}
