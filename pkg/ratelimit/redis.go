package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript maintains one bucket per host atomically in Redis.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity
// ARGV[3] = cost
// ARGV[4] = current unix time (seconds, fractional)
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return allowed
`)

// Distributed is the Redis-backed backend shared by acquire workers in
// separate processes.
type Distributed struct {
	client   *redis.Client
	ratePerS float64
	capacity float64
}

// NewDistributed connects to Redis at addr with one bucket per host.
func NewDistributed(addr string, requestsPerSecond float64, burst int) *Distributed {
	if burst < 1 {
		burst = 1
	}
	return &Distributed{
		client:   redis.NewClient(&redis.Options{Addr: addr}),
		ratePerS: requestsPerSecond,
		capacity: float64(burst),
	}
}

func (d *Distributed) Wait(ctx context.Context, host string) error {
	key := "dc:ratelimit:" + host
	for {
		now := float64(time.Now().UnixMicro()) / 1e6
		allowed, err := tokenBucketScript.Run(ctx, d.client, []string{key},
			d.ratePerS, d.capacity, 1, now).Int()
		if err != nil {
			return fmt.Errorf("rate limit check for %s: %w", host, err)
		}
		if allowed == 1 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(redisPollInterval):
		}
	}
}
