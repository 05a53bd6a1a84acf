package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the window counter and reports
// {allowed, current_count, limit, retry_after}.
const fixedWindowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
local limit = tonumber(ARGV[1])
if current > limit then
  local ttl = redis.call("TTL", KEYS[1])
  if ttl < 0 then ttl = tonumber(ARGV[2]) end
  return {0, current, limit, ttl}
end
return {1, current, limit, 0}
`

// Logger interface for logging
type Logger interface {
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Policy is a request budget per window.
type Policy struct {
	Limit  int64
	Window time.Duration
}

// Enabled reports whether the policy limits anything.
func (p Policy) Enabled() bool {
	return p.Limit > 0 && p.Window > 0
}

// Result contains the result of a rate limit check
type Result struct {
	Allowed           bool
	CurrentCount      int64
	Limit             int64
	RetryAfterSeconds int64 // 0 if allowed
}

// Limiter counts requests against a key.
type Limiter interface {
	Allow(ctx context.Context, key string, policy Policy) (Result, error)
}

// GlobalKey is the service-wide counter for one route class.
func GlobalKey(scope string) string {
	return "rate_limit:global:" + scope
}

// RedisLimiter is a fixed-window limiter shared by all api replicas.
type RedisLimiter struct {
	redis  *redis.Client
	script *redis.Script
	logger Logger
}

// NewRedisLimiter creates a limiter backed by the given connection.
func NewRedisLimiter(redisClient *redis.Client, logger Logger) *RedisLimiter {
	return &RedisLimiter{
		redis:  redisClient,
		script: redis.NewScript(fixedWindowScript),
		logger: logger,
	}
}

// Allow runs the window script atomically.
func (r *RedisLimiter) Allow(ctx context.Context, key string, policy Policy) (Result, error) {
	windowSec := int64(policy.Window / time.Second)
	if windowSec < 1 {
		windowSec = 1
	}
	raw, err := r.script.Run(ctx, r.redis, []string{key}, policy.Limit, windowSec).Result()
	if err != nil {
		r.logger.Error("rate limit check failed", "key", key, "error", err)
		return Result{}, fmt.Errorf("rate limit check failed: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 4 {
		return Result{}, fmt.Errorf("unexpected script result format")
	}
	nums := make([]int64, 4)
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return Result{}, fmt.Errorf("unexpected script result element %d: %T", i, v)
		}
		nums[i] = n
	}

	result := Result{
		Allowed:           nums[0] == 1,
		CurrentCount:      nums[1],
		Limit:             nums[2],
		RetryAfterSeconds: nums[3],
	}
	logResult(r.logger, key, result)
	return result, nil
}

// ResetLimit clears a rate limit counter (for testing/admin)
func (r *RedisLimiter) ResetLimit(ctx context.Context, key string) error {
	return r.redis.Del(ctx, key).Err()
}

// MemoryLimiter keeps windows in process. Used when Redis is disabled.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
	logger  Logger
}

type window struct {
	count   int64
	expires time.Time
}

// NewMemoryLimiter creates an in-process limiter.
func NewMemoryLimiter(logger Logger) *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
		logger:  logger,
	}
}

// SetClock replaces the time source.
func (m *MemoryLimiter) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Allow increments the counter for key.
func (m *MemoryLimiter) Allow(_ context.Context, key string, policy Policy) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.expires) {
		w = &window{expires: now.Add(policy.Window)}
		m.windows[key] = w
	}
	w.count++

	result := Result{Allowed: true, CurrentCount: w.count, Limit: policy.Limit}
	if w.count > policy.Limit {
		result.Allowed = false
		retry := int64(w.expires.Sub(now).Round(time.Second) / time.Second)
		if retry < 1 {
			retry = 1
		}
		result.RetryAfterSeconds = retry
	}
	logResult(m.logger, key, result)
	return result, nil
}

func logResult(log Logger, key string, r Result) {
	if log == nil {
		return
	}
	if !r.Allowed {
		log.Warn("rate limit exceeded",
			"key", key,
			"current", r.CurrentCount,
			"limit", r.Limit,
			"retry_after", r.RetryAfterSeconds)
		return
	}
	log.Debug("rate limit check passed", "key", key, "current", r.CurrentCount, "limit", r.Limit)
}
