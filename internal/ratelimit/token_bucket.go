package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBucket is a distributed per-tenant rate limiter backed by Redis. The
// enqueue API uses it to keep one dashboard from flooding the queue: capacity
// bounds the burst a tenant may enqueue at once, refill bounds the sustained
// rate.
type TokenBucket struct {
	client   *redis.Client
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Remaining float64
	// RetryAfter is how long until the next token accrues. Zero when allowed.
	RetryAfter time.Duration
}

// NewTokenBucket constructs a bucket with the provided burst capacity and
// sustained refill rate.
func NewTokenBucket(client *redis.Client, capacity int, refillPerSecond float64, ttl time.Duration) *TokenBucket {
	return &TokenBucket{
		client:   client,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
	}
}

// Allow consumes a single token for the tenant if available. On rejection the
// decision carries the wait until the bucket accrues the next token, which the
// API surfaces as a Retry-After header.
func (b *TokenBucket) Allow(ctx context.Context, tenantID string) (Decision, error) {
	key := fmt.Sprintf("rl:tenant:%s", tenantID)
	now := time.Now().UnixMilli()
	res, err := bucketScript.Run(ctx, b.client, []string{key}, b.capacity, b.refill, now, b.ttl.Milliseconds()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("run bucket script: %w", err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 3 {
		return Decision{}, fmt.Errorf("unexpected bucket script result: %T", res)
	}

	d := Decision{Allowed: toInt64(arr[0]) == 1}
	d.Remaining = toFloat(arr[1])
	if !d.Allowed {
		d.RetryAfter = time.Duration(toInt64(arr[2])) * time.Millisecond
	}
	return d, nil
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case float64:
		return int64(t)
	default:
		return 0
	}
}

// toFloat also parses strings: Lua integers survive a script reply, but
// fractional token counts only come back via tostring.
func toFloat(v any) float64 {
	switch t := v.(type) {
	case int64:
		return float64(t)
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

// The bucket state is one hash per tenant: a token count refilled lazily from
// the elapsed wall time. When a request is rejected the script reports how
// many milliseconds remain until a whole token accrues.
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_per_sec = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'stamp_ms')
local tokens = tonumber(state[1])
local stamp = tonumber(state[2])
if tokens == nil then tokens = capacity end
if stamp == nil then stamp = now_ms end

local elapsed = math.max(0, now_ms - stamp)
tokens = math.min(capacity, tokens + elapsed * refill_per_sec / 1000)

local allowed = 0
local retry_ms = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
elseif refill_per_sec > 0 then
  retry_ms = math.ceil((1 - tokens) * 1000 / refill_per_sec)
end

redis.call('HMSET', key, 'tokens', tokens, 'stamp_ms', now_ms)
if ttl_ms > 0 then redis.call('PEXPIRE', key, ttl_ms) end
return {allowed, tostring(tokens), retry_ms}
`)
